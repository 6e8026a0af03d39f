package api

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/basekick-labs/bulkloader/internal/logger"
	"github.com/basekick-labs/bulkloader/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Server is the optional status server of a running load
type Server struct {
	app     *fiber.App
	logger  zerolog.Logger
	metrics *metrics.Metrics
	config  *ServerConfig
	started time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr      string
	Keyspace        string
	Table           string
	SessionID       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      "127.0.0.1:9180",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// NewServer creates the status server and registers its routes.
func NewServer(config *ServerConfig, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if m == nil {
		m = metrics.Get()
	}

	app := fiber.New(fiber.Config{
		AppName:               "bulkloader",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s := &Server{
		app:     app,
		logger:  logger.With().Str("component", "status-server").Logger(),
		metrics: m,
		config:  config,
		started: time.Now(),
	}
	app.Use(s.requestCounter())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)
	s.app.Get("/api/v1/progress", s.progressHandler)
	s.app.Get("/api/v1/logs", s.logsHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	uptime := time.Since(s.started)
	return c.JSON(fiber.Map{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime":     uptime.String(),
		"uptime_sec": uptime.Seconds(),
	})
}

// metricsHandler returns metrics in Prometheus format or JSON
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if c.Get("Accept") == "application/json" {
		return c.JSON(s.metrics.Snapshot())
	}
	c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	return c.SendString(s.metrics.PrometheusFormat())
}

func (s *Server) progressHandler(c *fiber.Ctx) error {
	snapshot := s.metrics.Snapshot()

	rowsPerSec := float64(0)
	if elapsed := time.Since(s.started).Seconds(); elapsed > 0 {
		if read, ok := snapshot["rows_read_total"].(int64); ok {
			rowsPerSec = float64(read) / elapsed
		}
	}

	return c.JSON(fiber.Map{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"keyspace":   s.config.Keyspace,
		"table":      s.config.Table,
		"session_id": s.config.SessionID,
		"input": fiber.Map{
			"rows_read":     snapshot["rows_read_total"],
			"rows_rejected": snapshot["rows_rejected_total"],
			"bytes":         snapshot["input_bytes"],
			"rows_per_sec":  rowsPerSec,
		},
		"buffer": fiber.Map{
			"rows":  snapshot["rows_buffered"],
			"bytes": snapshot["bytes_buffered"],
		},
		"output": fiber.Map{
			"rows_written":          snapshot["rows_written_total"],
			"generations":           snapshot["generations_written_total"],
			"partitions":            snapshot["partitions_written_total"],
			"data_bytes_raw":        snapshot["data_bytes_raw_total"],
			"data_bytes_compressed": snapshot["data_bytes_compressed_total"],
			"flush_errors":          snapshot["flush_errors_total"],
			"uploads":               snapshot["uploads_total"],
			"upload_errors":         snapshot["upload_errors_total"],
		},
	})
}

// logsHandler returns the most recent warnings and errors
func (s *Server) logsHandler(c *fiber.Ctx) error {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	entries := logger.Recent().Entries(limit)
	return c.JSON(fiber.Map{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"count":     len(entries),
		"limit":     limit,
		"logs":      entries,
	})
}

// Start binds the listen address and serves in the background. A bind
// failure is returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting status server")
	go func() {
		if err := s.app.Listener(ln); err != nil {
			s.logger.Error().Err(err).Msg("Status server stopped unexpectedly")
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("Status server stopped")
	return nil
}

// App returns the underlying Fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles Fiber errors
func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		if code >= 500 {
			logger.Error().
				Err(err).
				Int("status", code).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Msg("Request error")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

func (s *Server) requestCounter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		s.metrics.IncHTTPRequests()
		return c.Next()
	}
}
