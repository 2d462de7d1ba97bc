package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ble-scanner/internal/device"
)

// DefaultRetryInterval is the fixed delay between connection attempts.
const DefaultRetryInterval = 15 * time.Second

// errStreamEnded reports a Subscribe that returned without error while the
// context was still live. The loop treats it like any other failure.
var errStreamEnded = fmt.Errorf("%w: stream ended", ErrTransport)

// ProxyClient is one connection to a BLE proxy.
//
// Subscribe blocks, calling handle for each advertisement, until the
// stream fails (non-nil error), ends (nil) or ctx is cancelled (ctx.Err()).
// Disconnect must be safe to call at any time, including more than once.
type ProxyClient interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, handle func(Advertisement)) error
	Disconnect() error
}

// Sink receives decoded observations. *device.Registry implements it.
type Sink interface {
	Upsert(obs device.Observation) (*device.Device, error)
}

// Endpoint binds a configured proxy to its client.
type Endpoint struct {
	Name      string
	Host      string
	Port      int
	Transport string
	Client    ProxyClient
}

// Backoff is the retry policy shared by every loop: a fixed interval plus
// a uniform random jitter in [0, Jitter].
type Backoff struct {
	Interval time.Duration
	Jitter   time.Duration
}

// next returns the wait before the following attempt.
func (b Backoff) next() time.Duration {
	d := b.Interval
	if d <= 0 {
		d = DefaultRetryInterval
	}
	if b.Jitter > 0 {
		d += rand.N(b.Jitter + 1)
	}
	return d
}

// Loop keeps one endpoint connected and forwards its advertisements.
type Loop struct {
	endpoint Endpoint
	sink     Sink
	backoff  Backoff
	logger   Logger

	mu            sync.RWMutex
	state         State
	lastErr       error
	lastConnected time.Time

	attempts       atomic.Uint64
	advertisements atomic.Uint64
}

// NewLoop creates a loop for ep feeding sink.
func NewLoop(ep Endpoint, sink Sink, backoff Backoff) *Loop {
	return &Loop{
		endpoint: ep,
		sink:     sink,
		backoff:  backoff,
		logger:   noopLogger{},
		state:    StateDisconnected,
	}
}

// SetLogger sets the logger for the loop.
func (l *Loop) SetLogger(logger Logger) {
	l.logger = logger
}

// Run connects, subscribes and reconnects until ctx is cancelled.
//
// Every failure (connect, subscribe or mid-stream) disconnects the client
// and waits one backoff before the next attempt. There is no retry limit.
// Run always returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	name := l.endpoint.Name
	client := l.endpoint.Client

	for {
		l.attempts.Add(1)
		l.setState(StateConnecting, nil)

		err := client.Connect(ctx)
		if err == nil {
			l.setConnected()
			l.logger.Info("proxy connected", "proxy", name, "transport", l.endpoint.Transport)
			err = client.Subscribe(ctx, l.handle)
			if err == nil {
				err = errStreamEnded
			}
		}

		if ctx.Err() != nil {
			return l.shutdown(ctx)
		}

		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if dErr := client.Disconnect(); dErr != nil {
			l.logger.Debug("proxy disconnect failed", "proxy", name, "error", dErr)
		}

		wait := l.backoff.next()
		l.setState(StateRetrying, err)
		l.logger.Warn("proxy connection failed, retrying",
			"proxy", name,
			"error", err,
			"attempt", l.attempts.Load(),
			"retry_in", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.shutdown(ctx)
		case <-timer.C:
		}
	}
}

func (l *Loop) shutdown(ctx context.Context) error {
	if err := l.endpoint.Client.Disconnect(); err != nil {
		l.logger.Debug("proxy disconnect failed", "proxy", l.endpoint.Name, "error", err)
	}
	l.setState(StateDisconnected, nil)
	l.logger.Info("proxy loop stopped", "proxy", l.endpoint.Name)
	return ctx.Err()
}

// handle forwards one advertisement. Invalid MACs are dropped without
// affecting the connection.
func (l *Loop) handle(adv Advertisement) {
	if _, err := l.sink.Upsert(adv.Observation(l.endpoint.Name)); err != nil {
		if errors.Is(err, device.ErrInvalidInput) {
			l.logger.Debug("dropping advertisement", "proxy", l.endpoint.Name, "mac", adv.MAC, "error", err)
			return
		}
		l.logger.Warn("recording advertisement failed", "proxy", l.endpoint.Name, "error", err)
		return
	}
	l.advertisements.Add(1)
}

func (l *Loop) setState(s State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
	if err != nil {
		l.lastErr = err
	}
}

func (l *Loop) setConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateConnected
	l.lastErr = nil
	l.lastConnected = time.Now().UTC()
}

// Status returns a snapshot of the loop.
func (l *Loop) Status() EndpointStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := EndpointStatus{
		Name:           l.endpoint.Name,
		Host:           l.endpoint.Host,
		Port:           l.endpoint.Port,
		Transport:      l.endpoint.Transport,
		State:          l.state,
		Connected:      l.state == StateConnected,
		Attempts:       l.attempts.Load(),
		Advertisements: l.advertisements.Load(),
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	if !l.lastConnected.IsZero() {
		t := l.lastConnected
		s.LastConnected = &t
	}
	return s
}
