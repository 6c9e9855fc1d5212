// Package runtime provides graceful shutdown handling for the bridge process.
package runtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/seralo/bridgebot/internal/logging"
)

// ShutdownFunc is a cleanup function called during shutdown
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager handles graceful shutdown of the bridge. In-flight agent
// turns get a bounded grace period to finish or honor interrupt before
// subprocess and stream resources are torn down.
type ShutdownManager struct {
	mu          sync.Mutex
	handlers    []namedHandler
	timeout     time.Duration
	log         *logging.Logger
	shutdownCtx context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	once        sync.Once
}

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

// DefaultGracePeriod is the default grace period for in-flight turns.
const DefaultGracePeriod = 30 * time.Second

// NewShutdownManager creates a new shutdown manager with the given grace period.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		handlers:    make([]namedHandler, 0),
		timeout:     timeout,
		log:         logging.New("shutdown"),
		shutdownCtx: ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Register adds a cleanup handler to be called during shutdown.
// Handlers are called in reverse order (LIFO) - last registered, first called
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// RegisterSimple adds a simple cleanup function (no error return)
func (m *ShutdownManager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context returns a context that is cancelled when shutdown begins
func (m *ShutdownManager) Context() context.Context {
	return m.shutdownCtx
}

// Done returns a channel that's closed when shutdown is complete
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// ListenForSignals starts listening for shutdown signals (SIGTERM, SIGINT).
// Non-blocking; call once at startup.
func (m *ShutdownManager) ListenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		m.log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
		m.Shutdown()
	}()
}

// Shutdown initiates graceful shutdown - can only be called once
func (m *ShutdownManager) Shutdown() {
	m.once.Do(func() {
		m.performShutdown()
	})
}

// performShutdown executes all cleanup handlers
func (m *ShutdownManager) performShutdown() {
	defer close(m.done)

	// Cancel the main context to signal all operations to stop
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]namedHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.log.Info("shutdown_started", map[string]interface{}{"handlers": len(handlers)})

	var wg sync.WaitGroup
	var errorMu sync.Mutex
	var failed []string

	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		wg.Add(1)
		go func(handler namedHandler) {
			defer wg.Done()

			start := time.Now()
			if err := handler.fn(ctx); err != nil {
				m.log.Error("handler_failed", map[string]interface{}{
					"handler":     handler.name,
					"duration_ms": time.Since(start).Milliseconds(),
				}, err)
				errorMu.Lock()
				failed = append(failed, fmt.Sprintf("%s: %v", handler.name, err))
				errorMu.Unlock()
			} else {
				m.log.TimedEvent("handler_done", start, map[string]interface{}{
					"handler": handler.name,
				})
			}
		}(h)
	}

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		m.log.Info("shutdown_complete", map[string]interface{}{"errors": len(failed)})
	case <-ctx.Done():
		m.log.Warn("shutdown_timeout", map[string]interface{}{
			"grace_period": m.timeout.String(),
		}, ctx.Err())
	}
}

// WaitForShutdown blocks until shutdown is complete
func (m *ShutdownManager) WaitForShutdown() {
	<-m.done
}
