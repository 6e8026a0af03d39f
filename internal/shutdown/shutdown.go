package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component released at the end of a run
type Closer interface {
	Close() error
}

// HookFunc performs cleanup during shutdown
type HookFunc func(ctx context.Context) error

// Coordinator turns SIGINT/SIGTERM into a cancelled load context and releases
// registered components in priority order once the load has stopped.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu         sync.Mutex
	components []namedComponent
	hooks      []namedHook
	received   os.Signal

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

type namedComponent struct {
	name      string
	component Closer
	priority  int // Lower = released first
}

type namedHook struct {
	name     string
	hook     HookFunc
	priority int
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register adds a component released by Shutdown
func (c *Coordinator) Register(name string, component Closer, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components = append(c.components, namedComponent{
		name:      name,
		component: component,
		priority:  priority,
	})

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered component for shutdown")
}

// RegisterHook adds a hook run by Shutdown before the components are closed
func (c *Coordinator) RegisterHook(name string, hook HookFunc, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hooks = append(c.hooks, namedHook{
		name:     name,
		hook:     hook,
		priority: priority,
	})

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered shutdown hook")
}

// Watch returns a context that is cancelled on SIGINT, SIGTERM or
// TriggerShutdown. stop releases the signal handler.
func (c *Coordinator) Watch(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-quit:
			c.mu.Lock()
			c.received = sig
			c.mu.Unlock()
			c.logger.Warn().
				Str("signal", sig.String()).
				Msg("Received interrupt, aborting load")
			c.TriggerShutdown()
			cancel()
		case <-c.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(quit)
		cancel()
	}
}

// Interrupted reports the signal that stopped the load, or nil.
func (c *Coordinator) Interrupted() os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Done is closed once shutdown has been triggered
func (c *Coordinator) Done() <-chan struct{} {
	return c.shutdownCh
}

// Shutdown runs the hooks and closes the components, each in priority order.
// Only the first call does any work; the first failure is returned.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()

		c.mu.Lock()
		components := make([]namedComponent, len(c.components))
		copy(components, c.components)
		hooks := make([]namedHook, len(c.hooks))
		copy(hooks, c.hooks)
		c.mu.Unlock()

		sort.SliceStable(components, func(i, j int) bool { return components[i].priority < components[j].priority })
		sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].priority < hooks[j].priority })

		c.logger.Debug().
			Dur("timeout", c.timeout).
			Int("components", len(components)).
			Int("hooks", len(hooks)).
			Msg("Releasing resources")

		for _, h := range hooks {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("hook", h.name).
					Msg("Shutdown timeout reached, skipping remaining hooks")
				shutdownErr = ctx.Err()
				return
			}

			if err := h.hook(ctx); err != nil {
				c.logger.Error().
					Err(err).
					Str("hook", h.name).
					Msg("Shutdown hook failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		for _, comp := range components {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("component", comp.name).
					Msg("Shutdown timeout reached, skipping remaining components")
				shutdownErr = ctx.Err()
				return
			}

			if err := comp.component.Close(); err != nil {
				c.logger.Error().
					Err(err).
					Str("component", comp.name).
					Msg("Component shutdown failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		c.logger.Debug().
			Dur("duration", time.Since(start)).
			Msg("Resources released")
	})

	return shutdownErr
}

// TriggerShutdown cancels every watched context. Safe for concurrent use.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Shutdown triggered")
		close(c.shutdownCh)
	})
}

// Release order
const (
	PriorityStatusServer = 10
	PriorityInput        = 20
	PriorityUpload       = 30
	PriorityStorage      = 40
)
