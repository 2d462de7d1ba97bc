package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Registry is the single source of truth for discovered devices.
//
// Every mutation runs under one mutex, so a reader never observes a record
// half way through a merge. Returned devices are deep copies. Listeners are
// notified after the lock is released, but one mutation's listeners finish
// before the next mutation starts, so events arrive in mutation order.
// Listeners may read the registry; they must not mutate it.
//
// Persistence is advisory: the registry keeps working in memory when the
// Store fails.
//
// All public methods are thread-safe.
type Registry struct {
	notifyMu   sync.Mutex // held across a mutation and its notification
	mu         sync.Mutex
	devices    map[string]*Device
	dirty      bool
	listeners  []Listener
	classifier Classifier
	stats      Stats

	store     Store
	persistMu sync.Mutex // serialises Store writes

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry backed by store.
// A nil store keeps the registry purely in memory.
func NewRegistry(store Store) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		store:   store,
		logger:  noopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClassifier installs an optional classifier. Nil removes it.
func (r *Registry) SetClassifier(c Classifier) {
	r.mu.Lock()
	r.classifier = c
	r.mu.Unlock()
}

// AddListener registers fn for every subsequent change event.
func (r *Registry) AddListener(fn Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Upsert records one advertisement.
//
// A new MAC creates a record with seen_count 1. A known MAC is merged:
// last_seen advances, seen_count increments, rssi/manufacturer/services/
// source take the latest non-empty values, and the name is replaced only
// when the record was not added manually.
//
// Returns ErrInvalidInput for an empty or malformed MAC.
func (r *Registry) Upsert(obs Observation) (*Device, error) {
	mac, err := NormalizeMAC(obs.MAC)
	if err != nil {
		return nil, err
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	now := r.now()
	existing, ok := r.devices[mac]

	var ev Event
	if !ok {
		d := &Device{
			MACAddress:   mac,
			Name:         obs.Name,
			RSSI:         obs.RSSI,
			Manufacturer: obs.Manufacturer,
			Services:     dedupeServices(obs.Services),
			FirstSeen:    now,
			LastSeen:     now,
			SeenCount:    1,
			Source:       obs.Source,
		}
		if d.Name == "" {
			d.Name = PlaceholderName(mac)
		}
		if d.Manufacturer == "" {
			d.Manufacturer = UnknownManufacturer
		}
		r.classify(d)
		r.devices[mac] = d
		r.stats.Created++
		ev = Event{Type: EventCreated, Device: d.DeepCopy(), Changed: true}
	} else {
		before := existing.DeepCopy()

		existing.LastSeen = now
		if existing.LastSeen.Before(existing.FirstSeen) {
			existing.LastSeen = existing.FirstSeen
		}
		existing.SeenCount++
		existing.RSSI = obs.RSSI
		if obs.Name != "" && !existing.AddedManually {
			existing.Name = obs.Name
		}
		if obs.Manufacturer != "" {
			existing.Manufacturer = obs.Manufacturer
		}
		if len(obs.Services) > 0 {
			existing.Services = dedupeServices(obs.Services)
		}
		if obs.Source != "" {
			existing.Source = obs.Source
		}
		r.classify(existing)
		ev = Event{Type: EventUpdated, Device: existing.DeepCopy(), Changed: materiallyChanged(before, existing)}
	}
	r.stats.Upserts++
	r.dirty = true
	out := ev.Device.DeepCopy()
	listeners := r.listeners
	r.mu.Unlock()

	if ev.Type == EventCreated {
		r.logger.Info("device discovered", "mac", mac, "name", out.Name, "source", out.Source)
	}
	notify(listeners, ev)

	return out, nil
}

// AddManual creates or overwrites a user-entered device.
//
// The record is flagged added_manually, so later advertisements never
// rename it. An empty name keeps the current one (or the placeholder for a
// new record). The registry is persisted before returning.
//
// Returns ErrInvalidInput for an empty or malformed MAC.
func (r *Registry) AddManual(ctx context.Context, mac string, fields ManualFields) (*Device, error) {
	canonical, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	r.notifyMu.Lock()
	r.mu.Lock()
	now := r.now()
	d, ok := r.devices[canonical]
	evType := EventUpdated
	if !ok {
		d = &Device{
			MACAddress: canonical,
			Name:       PlaceholderName(canonical),
			FirstSeen:  now,
			Services:   []string{},
		}
		r.devices[canonical] = d
		r.stats.Created++
		evType = EventCreated
	}

	d.LastSeen = now
	if d.LastSeen.Before(d.FirstSeen) {
		d.LastSeen = d.FirstSeen
	}
	d.SeenCount++
	d.AddedManually = true
	d.Source = SourceManual
	d.RSSI = fields.RSSI
	if fields.Name != "" {
		d.Name = fields.Name
	}
	if fields.Manufacturer != "" {
		d.Manufacturer = fields.Manufacturer
	} else if d.Manufacturer == "" {
		d.Manufacturer = UnknownManufacturer
	}
	if fields.Services != nil {
		d.Services = dedupeServices(fields.Services)
	}
	r.classify(d)
	r.dirty = true

	ev := Event{Type: evType, Device: d.DeepCopy(), Changed: true}
	out := d.DeepCopy()
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("device added manually", "mac", canonical, "name", out.Name)
	notify(listeners, ev)
	r.notifyMu.Unlock()
	_ = r.Persist(ctx)

	return out, nil
}

// Remove deletes a device and reports whether it existed. Unknown or
// malformed MACs are a no-op returning false.
func (r *Registry) Remove(ctx context.Context, mac string) bool {
	canonical, err := NormalizeMAC(mac)
	if err != nil {
		return false
	}

	r.notifyMu.Lock()
	r.mu.Lock()
	d, ok := r.devices[canonical]
	if !ok {
		r.mu.Unlock()
		r.notifyMu.Unlock()
		return false
	}
	delete(r.devices, canonical)
	r.dirty = true
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("device removed", "mac", canonical)
	notify(listeners, Event{Type: EventRemoved, Device: d, Changed: true})
	r.notifyMu.Unlock()
	_ = r.Persist(ctx)

	return true
}

// Clear empties the registry atomically and returns how many records were
// removed.
func (r *Registry) Clear(ctx context.Context) int {
	r.notifyMu.Lock()
	r.mu.Lock()
	macs := make([]string, 0, len(r.devices))
	for mac := range r.devices {
		macs = append(macs, mac)
	}
	r.devices = make(map[string]*Device)
	r.dirty = true
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("devices cleared", "count", len(macs))
	notify(listeners, Event{Type: EventCleared, Changed: true, MACs: macs})
	r.notifyMu.Unlock()
	_ = r.Persist(ctx)

	return len(macs)
}

// Prune removes automatically discovered devices not seen for longer than
// olderThan. Manually added devices are kept.
func (r *Registry) Prune(olderThan time.Duration) int {
	if olderThan <= 0 {
		return 0
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	cutoff := r.now().Add(-olderThan)
	var removed []*Device
	for mac, d := range r.devices {
		if d.AddedManually || !d.LastSeen.Before(cutoff) {
			continue
		}
		delete(r.devices, mac)
		removed = append(removed, d)
	}
	if len(removed) > 0 {
		r.dirty = true
	}
	listeners := r.listeners
	r.mu.Unlock()

	for _, d := range removed {
		r.logger.Debug("stale device pruned", "mac", d.MACAddress, "last_seen", d.LastSeen)
		notify(listeners, Event{Type: EventRemoved, Device: d, Changed: true})
	}
	return len(removed)
}

// List returns a snapshot of all devices in unspecified order.
func (r *Registry) List() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.DeepCopy())
	}
	return out
}

// Get looks up one device. The MAC is normalised first, so any accepted
// spelling finds the record.
func (r *Registry) Get(mac string) (*Device, bool) {
	canonical, err := NormalizeMAC(mac)
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[canonical]
	if !ok {
		return nil, false
	}
	return d.DeepCopy(), true
}

// Count returns the number of devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Stats returns current registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Devices = len(r.devices)
	return s
}

// Persist writes the full table to the Store.
//
// Failures are logged and counted; the returned error (wrapping
// ErrPersistence) is informational and the in-memory table is unaffected.
func (r *Registry) Persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[string]*Device, len(r.devices))
	for mac, d := range r.devices {
		snapshot[mac] = d.DeepCopy()
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.stats.PersistFailures++
		r.mu.Unlock()
		r.logger.Error("persisting devices failed", "error", err, "count", len(snapshot))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	r.mu.Lock()
	r.stats.LastPersist = r.now()
	r.mu.Unlock()
	r.logger.Debug("devices persisted", "count", len(snapshot))
	return nil
}

// Load replaces the in-memory table with the Store's contents.
//
// Keys that are not valid MACs and undecodable records are skipped. On failure the current table
// is kept and the error (wrapping ErrPersistence) is logged and returned.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	loaded, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Error("loading devices failed", "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	devices := make(map[string]*Device, len(loaded))
	for key, d := range loaded {
		if d == nil {
			r.logger.Warn("skipping undecodable stored device", "key", key)
			continue
		}
		mac, err := NormalizeMAC(key)
		if err != nil {
			r.logger.Warn("skipping invalid stored device", "key", key)
			continue
		}
		d = d.DeepCopy()
		d.MACAddress = mac
		if d.Services == nil {
			d.Services = []string{}
		}
		devices[mac] = d
	}

	r.mu.Lock()
	r.devices = devices
	r.dirty = false
	r.mu.Unlock()

	r.logger.Info("devices loaded", "count", len(devices))
	return nil
}

// RunPersistence flushes dirty state every interval and prunes stale
// devices when pruneAfter is positive. It performs a final flush when ctx
// is cancelled and then returns.
func (r *Registry) RunPersistence(ctx context.Context, interval, pruneAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if r.isDirty() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = r.Persist(flushCtx)
				cancel()
			}
			return
		case <-ticker.C:
			if pruneAfter > 0 {
				if n := r.Prune(pruneAfter); n > 0 {
					r.logger.Info("pruned stale devices", "count", n)
				}
			}
			if r.isDirty() {
				_ = r.Persist(ctx)
			}
		}
	}
}

func (r *Registry) isDirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// classify sets the category of d. Caller holds r.mu.
func (r *Registry) classify(d *Device) {
	if r.classifier == nil {
		return
	}
	d.Category = r.classifier.Classify(d)
}

func materiallyChanged(before, after *Device) bool {
	return before.Name != after.Name ||
		before.Manufacturer != after.Manufacturer ||
		before.Category != after.Category ||
		!equalServices(before.Services, after.Services)
}

func notify(listeners []Listener, ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}
