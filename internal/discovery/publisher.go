package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ble-scanner/internal/device"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/mqtt"
)

// Publisher defaults.
const (
	// DefaultQueueSize bounds the number of pending registry events.
	DefaultQueueSize = 256

	// DefaultPresenceTimeout marks a device absent after this long unseen.
	DefaultPresenceTimeout = 5 * time.Minute
)

// MQTTClient is the subset of *mqtt.Client the publisher needs.
// This allows mocking in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// HasSubscription reports whether topic is already subscribed.
	HasSubscription(topic string) bool

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// SetOnConnect registers a callback run on every (re)connect.
	SetOnConnect(callback func())

	// Topics returns the topic builder.
	Topics() mqtt.Topics
}

// Logger defines the logging interface used by the publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Publisher.
type Options struct {
	// Discovery enables Home Assistant discovery and state topics.
	Discovery bool

	// DeviceTopic receives every device change as non-retained JSON.
	// Empty disables it.
	DeviceTopic string

	// QoS for every publish.
	QoS byte

	// PresenceTimeout marks devices absent. Zero uses DefaultPresenceTimeout;
	// a negative value disables the presence sweep.
	PresenceTimeout time.Duration

	// QueueSize bounds pending events. Zero uses DefaultQueueSize.
	QueueSize int

	// Version is reported as the scanner device's software version.
	Version string
}

type jobKind int

const (
	jobEvent jobKind = iota
	jobReannounce
)

type job struct {
	kind  jobKind
	event device.Event
}

// announcement is what the publisher remembers about an announced device.
type announcement struct {
	device *device.Device
	absent bool
}

// Publisher turns registry events into Home Assistant MQTT messages.
//
// Registry listeners only enqueue; a single worker goroutine publishes, so
// a slow or absent broker never blocks the registry. When the queue is
// full the event is dropped and counted.
//
// Thread Safety: All methods are safe for concurrent use.
type Publisher struct {
	client MQTTClient
	topics mqtt.Topics
	opts   Options
	queue  chan job
	now    func() time.Time

	mu        sync.Mutex
	announced map[string]*announcement

	dropped     atomic.Uint64
	overflowing atomic.Bool
	scannerSent atomic.Bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewPublisher creates a publisher. Call Start to begin processing events.
func NewPublisher(client MQTTClient, opts Options) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PresenceTimeout == 0 {
		opts.PresenceTimeout = DefaultPresenceTimeout
	}

	return &Publisher{
		client:    client,
		topics:    client.Topics(),
		opts:      opts,
		queue:     make(chan job, opts.QueueSize),
		now:       time.Now,
		announced: make(map[string]*announcement),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this publisher.
func (p *Publisher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Start hooks into the client's connect events and starts the worker.
// The worker exits when ctx is cancelled or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.client.SetOnConnect(p.handleConnect)
	if p.client.IsConnected() {
		p.subscribeBirth()
	}

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop stops the worker. Pending events are discarded.
// Safe to call multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// HandleEvent is a device.Listener. It never blocks.
func (p *Publisher) HandleEvent(ev device.Event) {
	p.enqueue(job{kind: jobEvent, event: ev})
}

// Dropped returns how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Announced returns the number of devices currently announced.
func (p *Publisher) Announced() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.announced)
}

func (p *Publisher) enqueue(j job) {
	select {
	case p.queue <- j:
		p.overflowing.Store(false)
	default:
		total := p.dropped.Add(1)
		// Log once per overflow burst.
		if !p.overflowing.Swap(true) {
			p.logger.Warn("discovery queue full, dropping events", "dropped_total", total)
		}
	}
}

// run is the worker loop: it drains the queue and sweeps presence.
func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	var sweep <-chan time.Time
	if p.opts.Discovery && p.opts.PresenceTimeout > 0 {
		ticker := time.NewTicker(p.opts.PresenceTimeout / 2)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case j := <-p.queue:
			p.process(j)
		case <-sweep:
			p.SweepPresence()
		}
	}
}

func (p *Publisher) process(j job) {
	switch j.kind {
	case jobReannounce:
		if n := p.Reannounce(); n > 0 {
			p.logger.Info("re-announced devices", "count", n)
		}
	case jobEvent:
		p.processEvent(j.event)
	}
}

func (p *Publisher) processEvent(ev device.Event) {
	switch ev.Type {
	case device.EventCreated, device.EventUpdated:
		d := ev.Device
		if d == nil {
			return
		}
		if p.opts.Discovery {
			var err error
			if ev.Changed || !p.isAnnounced(d.MACAddress) {
				err = p.PublishDiscovery(d)
			} else {
				err = p.PublishState(d)
			}
			p.logPublishError(err, d.MACAddress)
		}
		p.logPublishError(p.publishLegacy(d), d.MACAddress)

	case device.EventRemoved:
		if ev.Device != nil && p.opts.Discovery {
			p.logPublishError(p.RemoveDevice(ev.Device.MACAddress), ev.Device.MACAddress)
		}

	case device.EventCleared:
		if p.opts.Discovery {
			p.removeAll(ev.MACs)
		}
	}
}

// PublishDiscovery announces the three entities of d and publishes their
// state. The device is remembered for re-announcement after a reconnect,
// even when publishing fails.
func (p *Publisher) PublishDiscovery(d *device.Device) error {
	p.mu.Lock()
	p.announced[d.MACAddress] = &announcement{device: d.DeepCopy()}
	p.mu.Unlock()

	if !p.scannerSent.Load() {
		if err := p.announceScanner(); err != nil {
			return err
		}
	}
	msgs, err := configMessages(p.topics, d)
	if err != nil {
		return fmt.Errorf("building discovery config for %s: %w", d.MACAddress, err)
	}
	if err := p.publishAll(msgs); err != nil {
		return err
	}
	return p.publishState(d, true)
}

// PublishState publishes the state topics of d without re-sending the
// discovery config. A device seen again is marked present.
func (p *Publisher) PublishState(d *device.Device) error {
	p.mu.Lock()
	if a, ok := p.announced[d.MACAddress]; ok {
		a.device = d.DeepCopy()
		a.absent = false
	}
	p.mu.Unlock()

	return p.publishState(d, true)
}

func (p *Publisher) publishState(d *device.Device, present bool) error {
	msgs, err := stateMessages(p.topics, d, present)
	if err != nil {
		return fmt.Errorf("building state for %s: %w", d.MACAddress, err)
	}
	return p.publishAll(msgs)
}

// RemoveDevice publishes empty retained configs so Home Assistant deletes
// the entities of mac, and forgets it.
func (p *Publisher) RemoveDevice(mac string) error {
	p.mu.Lock()
	delete(p.announced, mac)
	p.mu.Unlock()

	return p.publishAll(removalMessages(p.topics, mac))
}

// removeAll removes every announced device plus macs.
func (p *Publisher) removeAll(macs []string) {
	p.mu.Lock()
	targets := make(map[string]struct{}, len(p.announced)+len(macs))
	for mac := range p.announced {
		targets[mac] = struct{}{}
	}
	p.mu.Unlock()
	for _, mac := range macs {
		targets[mac] = struct{}{}
	}

	for mac := range targets {
		p.logPublishError(p.RemoveDevice(mac), mac)
	}
}

// Reannounce publishes config and state for every remembered device.
// A broker without persistence loses retained configs on restart.
func (p *Publisher) Reannounce() int {
	if !p.opts.Discovery {
		return 0
	}

	p.scannerSent.Store(false)
	if err := p.announceScanner(); err != nil {
		p.logPublishError(err, "")
	}

	p.mu.Lock()
	snapshot := make([]announcement, 0, len(p.announced))
	for _, a := range p.announced {
		snapshot = append(snapshot, announcement{device: a.device.DeepCopy(), absent: a.absent})
	}
	p.mu.Unlock()

	count := 0
	for _, a := range snapshot {
		msgs, err := configMessages(p.topics, a.device)
		if err == nil {
			err = p.publishAll(msgs)
		}
		if err == nil {
			err = p.publishState(a.device, !a.absent)
		}
		if err != nil {
			p.logPublishError(err, a.device.MACAddress)
			continue
		}
		count++
	}
	return count
}

// announceScanner publishes the scanner's own device config. Device
// entities reference it through via_device.
func (p *Publisher) announceScanner() error {
	msg, err := scannerMessage(p.topics, p.opts.Version)
	if err != nil {
		return fmt.Errorf("building scanner config: %w", err)
	}
	if err := p.publishAll([]message{msg}); err != nil {
		return err
	}
	p.scannerSent.Store(true)
	return nil
}

// SweepPresence publishes OFF for announced devices unseen for longer than
// the presence timeout. Each device is switched off once until seen again.
func (p *Publisher) SweepPresence() int {
	if p.opts.PresenceTimeout <= 0 {
		return 0
	}
	cutoff := p.now().Add(-p.opts.PresenceTimeout)

	var stale []string
	p.mu.Lock()
	for mac, a := range p.announced {
		if !a.absent && a.device.LastSeen.Before(cutoff) {
			a.absent = true
			stale = append(stale, mac)
		}
	}
	p.mu.Unlock()

	for _, mac := range stale {
		p.logPublishError(p.publishAll([]message{presenceOffMessage(p.topics, mac)}), mac)
	}
	if len(stale) > 0 {
		p.logger.Debug("marked devices absent", "count", len(stale))
	}
	return len(stale)
}

// publishLegacy sends the device JSON to the configured device topic.
func (p *Publisher) publishLegacy(d *device.Device) error {
	if p.opts.DeviceTopic == "" {
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding device %s: %w", d.MACAddress, err)
	}
	return p.client.Publish(p.opts.DeviceTopic, payload, p.opts.QoS, false)
}

// publishAll publishes msgs in order and stops at the first failure.
func (p *Publisher) publishAll(msgs []message) error {
	for _, m := range msgs {
		if err := p.client.Publish(m.topic, m.payload, p.opts.QoS, m.retained); err != nil {
			return fmt.Errorf("publishing %s: %w", m.topic, err)
		}
	}
	return nil
}

func (p *Publisher) isAnnounced(mac string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.announced[mac]
	return ok
}

// handleConnect runs on every broker (re)connect.
func (p *Publisher) handleConnect() {
	p.subscribeBirth()
	p.enqueue(job{kind: jobReannounce})
}

// subscribeBirth follows Home Assistant's birth message so a restarted
// Home Assistant gets the configs again.
func (p *Publisher) subscribeBirth() {
	if !p.opts.Discovery {
		return
	}
	topic := p.topics.HomeAssistantStatus()
	if p.client.HasSubscription(topic) {
		return
	}
	err := p.client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		if string(payload) == mqtt.PayloadOnline {
			p.enqueue(job{kind: jobReannounce})
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("subscribing to Home Assistant status failed", "topic", topic, "error", err)
	}
}

// logPublishError logs err. A disconnected broker is expected and only
// logged at debug level.
func (p *Publisher) logPublishError(err error, mac string) {
	switch {
	case err == nil:
	case errors.Is(err, mqtt.ErrNotConnected):
		p.logger.Debug("MQTT not connected, message dropped", "mac", mac)
	default:
		p.logger.Warn("MQTT publish failed", "mac", mac, "error", err)
	}
}
