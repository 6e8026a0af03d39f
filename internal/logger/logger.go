package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger. Logs go to stderr; stdout is reserved
// for the progress lines the load prints. Warnings and errors are also kept
// in the recent-entries buffer served by the status server.
func Setup(level, format string) {
	SetupWriter(level, format, os.Stderr)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(level, format string, out io.Writer) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var base io.Writer = out
	if strings.ToLower(format) == "console" {
		base = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(base, Recent())).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Get returns a logger with the given component name
func Get(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
