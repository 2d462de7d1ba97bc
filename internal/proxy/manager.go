package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultStopTimeout bounds how long Stop waits for the loops to exit.
const DefaultStopTimeout = 10 * time.Second

// Logger defines the logging interface used by the proxy package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Manager.
type Options struct {
	Backoff     Backoff
	StopTimeout time.Duration
}

// Manager owns one Loop per configured endpoint and starts or stops them
// as a set.
type Manager struct {
	loops       []*Loop
	stopTimeout time.Duration
	logger      Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager for endpoints. Loops are not started.
func NewManager(endpoints []Endpoint, sink Sink, opts Options) *Manager {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	m := &Manager{
		stopTimeout: opts.StopTimeout,
		logger:      noopLogger{},
	}
	for _, ep := range endpoints {
		m.loops = append(m.loops, NewLoop(ep, sink, opts.Backoff))
	}
	return m
}

// SetLogger sets the logger for the manager and its loops.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	for _, l := range m.loops {
		l.SetLogger(logger)
	}
}

// Start launches every loop under a child of ctx, so cancelling ctx also
// stops them. It returns ErrAlreadyRunning when the loops are running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningLocked() {
		return ErrAlreadyRunning
	}
	if m.cancel != nil {
		m.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	// Holds the group open until cancellation even with no endpoints.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	for _, l := range m.loops {
		g.Go(func() error {
			// Run only returns the context error; nothing to propagate.
			_ = l.Run(gctx)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	m.cancel = cancel
	m.done = done
	m.logger.Info("scan started", "proxies", len(m.loops))
	return nil
}

// Stop cancels every loop and waits for them to exit, bounded by the stop
// timeout. It returns ErrNotRunning when the loops are stopped.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.runningLocked() {
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
			m.done = nil
		}
		return ErrNotRunning
	}

	m.cancel()
	done := m.done
	m.cancel = nil
	m.done = nil

	select {
	case <-done:
		m.logger.Info("scan stopped")
		return nil
	case <-time.After(m.stopTimeout):
		m.logger.Warn("proxy loops did not stop in time", "timeout", m.stopTimeout)
		return fmt.Errorf("proxy: loops did not stop within %s", m.stopTimeout)
	}
}

// Running reports whether the loops are running. It turns false on Stop or
// once the context passed to Start is cancelled and every loop has exited.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

func (m *Manager) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Statuses returns a snapshot of every endpoint in configuration order.
func (m *Manager) Statuses() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(m.loops))
	for _, l := range m.loops {
		out = append(out, l.Status())
	}
	return out
}

// Endpoints returns the number of configured endpoints.
func (m *Manager) Endpoints() int {
	return len(m.loops)
}
