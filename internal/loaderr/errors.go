package loaderr

import (
	"errors"
	"fmt"
)

// ConfigError reports a problem with the run's setup: unknown table, invalid schema,
// unwritable output directory. Nothing is written when it is returned from Open.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RowError reports an input row that does not conform to the schema.
// Ordinal is 1-based; for rows coming from a CSV file it is the line number.
type RowError struct {
	Ordinal  int64
	Column   string
	Expected string
	Actual   string
	Err      error
}

func (e *RowError) Error() string {
	msg := fmt.Sprintf("row %d", e.Ordinal)
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(": expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RowError) Unwrap() error { return e.Err }

// IOError reports a failed flush or close. The generation it names may be partially
// written and must be discarded together with the rest of the output directory.
type IOError struct {
	Op         string
	Path       string
	Generation int
	Err        error
}

func (e *IOError) Error() string {
	msg := "io error: " + e.Op
	if e.Generation > 0 {
		msg += fmt.Sprintf(" (generation %d)", e.Generation)
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	return msg + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// Config wraps err as a ConfigError.
func Config(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

// Configf builds a ConfigError from a format string.
func Configf(op, format string, args ...any) error {
	return &ConfigError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsConfig reports whether err carries a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsRow reports whether err carries a RowError.
func IsRow(err error) bool {
	var re *RowError
	return errors.As(err, &re)
}

// IsIO reports whether err carries an IOError.
func IsIO(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}
