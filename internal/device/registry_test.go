package device

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store that can be told to fail.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]*Device
	saves   int
	saveErr error
	loadErr error
}

func (f *fakeStore) Save(_ context.Context, devices map[string]*Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = make(map[string]*Device, len(devices))
	for k, d := range devices {
		f.saved[k] = d.DeepCopy()
	}
	return nil
}

func (f *fakeStore) Load(_ context.Context) (map[string]*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[string]*Device, len(f.saved))
	for k, d := range f.saved {
		out[k] = d.DeepCopy()
	}
	return out, nil
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// steppingClock returns a clock advancing one second per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	r := NewRegistry(store)
	r.now = steppingClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return r, store
}

func TestRegistry_UpsertCreates(t *testing.T) {
	r, _ := newTestRegistry(t)

	d, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:FF", RSSI: -60, Source: "proxy-1"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if d.SeenCount != 1 {
		t.Errorf("SeenCount = %d, want 1", d.SeenCount)
	}
	if !d.FirstSeen.Equal(d.LastSeen) {
		t.Errorf("FirstSeen %v != LastSeen %v on creation", d.FirstSeen, d.LastSeen)
	}
	if d.Name != "BLE Device DDEEFF" {
		t.Errorf("Name = %q, want placeholder", d.Name)
	}
	if d.Manufacturer != UnknownManufacturer {
		t.Errorf("Manufacturer = %q, want Unknown", d.Manufacturer)
	}
	if d.Services == nil {
		t.Error("Services should be an empty slice, not nil")
	}
	if d.Source != "proxy-1" {
		t.Errorf("Source = %q", d.Source)
	}
	if d.AddedManually {
		t.Error("AddedManually should be false for advertisements")
	}
}

// P1: repeated upserts increment seen_count and keep first_seen.
func TestRegistry_UpsertMerges(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:01", RSSI: -50})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	second, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:01", RSSI: -55})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if second.SeenCount != 2 {
		t.Errorf("SeenCount = %d, want 2", second.SeenCount)
	}
	if second.RSSI != -55 {
		t.Errorf("RSSI = %d, want -55", second.RSSI)
	}
	if !second.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("FirstSeen changed: %v -> %v", first.FirstSeen, second.FirstSeen)
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Errorf("LastSeen did not advance: %v -> %v", first.LastSeen, second.LastSeen)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_UpsertKeepsValuesForEmptyFields(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.Upsert(Observation{
		MAC:          "AA:BB:CC:DD:EE:10",
		Name:         "Thermo",
		Manufacturer: "Xiaomi",
		Services:     []string{"181A", "181A", "180F"},
		Source:       "p1",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	d, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:10", RSSI: -70})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if d.Name != "Thermo" || d.Manufacturer != "Xiaomi" || d.Source != "p1" {
		t.Errorf("stored values lost: %+v", d)
	}
	if !reflect.DeepEqual(d.Services, []string{"181A", "180F"}) {
		t.Errorf("Services = %v, want deduplicated in order", d.Services)
	}
}

// P2: a manual name survives later advertisements.
func TestRegistry_ManualNameProtected(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.AddManual(ctx, "AA:BB:CC:DD:EE:02", ManualFields{Name: "Kitchen Sensor"}); err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}

	d, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:02", Name: "Unknown", RSSI: -40, Source: "p1"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if d.Name != "Kitchen Sensor" {
		t.Errorf("Name = %q, want Kitchen Sensor", d.Name)
	}
	if !d.AddedManually {
		t.Error("AddedManually should remain true")
	}
	if d.RSSI != -40 || d.Source != "p1" {
		t.Errorf("non-name fields should still merge: %+v", d)
	}
}

func TestRegistry_AddManualOverwritesName(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:03", Name: "Advertised", Manufacturer: "Apple"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	d, err := r.AddManual(ctx, "aa:bb:cc:dd:ee:03", ManualFields{Name: "Mine", RSSI: -60, Services: []string{"1800"}})
	if err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}

	if d.Name != "Mine" {
		t.Errorf("Name = %q, want Mine", d.Name)
	}
	if d.Manufacturer != "Apple" {
		t.Errorf("Manufacturer = %q, want existing value kept", d.Manufacturer)
	}
	if d.Source != SourceManual || !d.AddedManually {
		t.Errorf("manual markers missing: %+v", d)
	}
	if d.SeenCount != 2 {
		t.Errorf("SeenCount = %d, want 2", d.SeenCount)
	}
	if store.saveCount() == 0 {
		t.Error("AddManual should persist synchronously")
	}
}

// P3: MAC spelling does not create duplicates.
func TestRegistry_MACNormalization(t *testing.T) {
	r, _ := newTestRegistry(t)

	for _, mac := range []string{"aa:bb:cc:dd:ee:03", "AA:BB:CC:DD:EE:03", "aa-bb-cc-dd-ee-03", "AABBCCDDEE03"} {
		if _, err := r.Upsert(Observation{MAC: mac}); err != nil {
			t.Fatalf("Upsert(%q) error = %v", mac, err)
		}
	}

	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	d, ok := r.Get("aa:bb:cc:dd:ee:03")
	if !ok {
		t.Fatal("Get() with lowercase MAC did not find record")
	}
	if d.MACAddress != "AA:BB:CC:DD:EE:03" {
		t.Errorf("MACAddress = %q", d.MACAddress)
	}
	if d.SeenCount != 4 {
		t.Errorf("SeenCount = %d, want 4", d.SeenCount)
	}
}

// P4: Clear removes everything.
func TestRegistry_Clear(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	macs := []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02", "AA:BB:CC:DD:EE:03"}
	for _, mac := range macs {
		if _, err := r.Upsert(Observation{MAC: mac}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	if n := r.Clear(ctx); n != 3 {
		t.Errorf("Clear() = %d, want 3", n)
	}
	if got := r.List(); len(got) != 0 {
		t.Errorf("List() after Clear = %d entries", len(got))
	}
	for _, mac := range macs {
		if _, ok := r.Get(mac); ok {
			t.Errorf("Get(%s) found record after Clear", mac)
		}
	}
}

// P7: empty or malformed MACs are rejected and create nothing.
func TestRegistry_InvalidMACRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, mac := range []string{"", "   ", "not-a-mac", "AA:BB:CC:DD:EE", "GG:BB:CC:DD:EE:FF", "AA:BB-CC:DD:EE:FF"} {
		if _, err := r.Upsert(Observation{MAC: mac}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Upsert(%q) error = %v, want ErrInvalidInput", mac, err)
		}
		if _, err := r.AddManual(ctx, mac, ManualFields{Name: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("AddManual(%q) error = %v, want ErrInvalidInput", mac, err)
		}
	}

	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

// P8: removing an unknown MAC is a no-op.
func TestRegistry_RemoveUnknown(t *testing.T) {
	r, store := newTestRegistry(t)

	if r.Remove(context.Background(), "FF:FF:FF:FF:FF:FF") {
		t.Error("Remove() of unknown MAC returned true")
	}
	if r.Remove(context.Background(), "garbage") {
		t.Error("Remove() of malformed MAC returned true")
	}
	if store.saveCount() != 0 {
		t.Error("no-op Remove should not persist")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:04"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if !r.Remove(ctx, "aa:bb:cc:dd:ee:04") {
		t.Fatal("Remove() = false, want true")
	}
	if _, ok := r.Get("AA:BB:CC:DD:EE:04"); ok {
		t.Error("device still present after Remove")
	}
	if len(store.saved) != 0 {
		t.Errorf("persisted table has %d entries, want 0", len(store.saved))
	}
}

// P5: Persist then Load into a fresh registry reproduces the records.
func TestRegistry_PersistLoadRoundTrip(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:01", Name: "One", RSSI: -50, Services: []string{"180F"}, Source: "p1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:01", RSSI: -52}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddManual(ctx, "AA:BB:CC:DD:EE:02", ManualFields{Name: "Two", Manufacturer: "Acme"}); err != nil {
		t.Fatal(err)
	}

	if err := r.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	fresh := NewRegistry(store)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := toMap(r.List())
	got := toMap(fresh.List())
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}
}

func TestRegistry_LoadSkipsInvalidKeys(t *testing.T) {
	store := &fakeStore{saved: map[string]*Device{
		"aa:bb:cc:dd:ee:05": {MACAddress: "whatever", Name: "ok"},
		"not-a-mac":         {Name: "bad"},
	}}
	r := NewRegistry(store)

	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	d, ok := r.Get("AA:BB:CC:DD:EE:05")
	if !ok || d.MACAddress != "AA:BB:CC:DD:EE:05" {
		t.Errorf("record not re-keyed canonically: %+v", d)
	}
}

func TestRegistry_PersistenceFailureIsContained(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full"), loadErr: errors.New("unreadable")}
	r := NewRegistry(store)
	ctx := context.Background()

	d, err := r.AddManual(ctx, "AA:BB:CC:DD:EE:06", ManualFields{Name: "Still here"})
	if err != nil {
		t.Fatalf("AddManual() should succeed despite store failure, got %v", err)
	}
	if d.Name != "Still here" {
		t.Errorf("Name = %q", d.Name)
	}

	if err := r.Persist(ctx); !errors.Is(err, ErrPersistence) {
		t.Errorf("Persist() error = %v, want ErrPersistence", err)
	}
	if err := r.Load(ctx); !errors.Is(err, ErrPersistence) {
		t.Errorf("Load() error = %v, want ErrPersistence", err)
	}
	if r.Count() != 1 {
		t.Error("failed Load must keep the in-memory table")
	}
	if r.Stats().PersistFailures < 2 {
		t.Errorf("PersistFailures = %d, want >= 2", r.Stats().PersistFailures)
	}
	if !r.isDirty() {
		t.Error("registry should stay dirty after a failed persist")
	}
}

func TestRegistry_NilStore(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	if _, err := r.AddManual(ctx, "AA:BB:CC:DD:EE:07", ManualFields{}); err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}
	if err := r.Persist(ctx); err != nil {
		t.Errorf("Persist() with nil store = %v", err)
	}
	if err := r.Load(ctx); err != nil {
		t.Errorf("Load() with nil store = %v", err)
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r, _ := newTestRegistry(t)

	d, _ := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:08", Services: []string{"180F"}})
	d.Name = "mutated"
	d.Services[0] = "mutated"

	got, _ := r.Get("AA:BB:CC:DD:EE:08")
	if got.Name == "mutated" || got.Services[0] == "mutated" {
		t.Error("registry state was mutated through a returned copy")
	}
}

func TestRegistry_Listeners(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var mu sync.Mutex
	var events []Event
	r.AddListener(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	mac := "AA:BB:CC:DD:EE:09"
	_, _ = r.Upsert(Observation{MAC: mac, Name: "A"})
	_, _ = r.Upsert(Observation{MAC: mac, Name: "A", RSSI: -1})
	_, _ = r.Upsert(Observation{MAC: mac, Name: "B"})
	r.Remove(ctx, mac)
	_, _ = r.Upsert(Observation{MAC: mac})
	r.Clear(ctx)

	mu.Lock()
	defer mu.Unlock()

	want := []struct {
		typ     EventType
		changed bool
	}{
		{EventCreated, true},
		{EventUpdated, false},
		{EventUpdated, true},
		{EventRemoved, true},
		{EventCreated, true},
		{EventCleared, true},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Type != w.typ || events[i].Changed != w.changed {
			t.Errorf("event %d = (%s, %v), want (%s, %v)", i, events[i].Type, events[i].Changed, w.typ, w.changed)
		}
	}
	if got := events[5].MACs; len(got) != 1 || got[0] != mac {
		t.Errorf("cleared MACs = %v", got)
	}
}

func TestRegistry_ListenersSeeMutationOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	mac := "AA:BB:CC:DD:EE:1A"

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var events []Event
	r.AddListener(func(ev Event) {
		if ev.Device.SeenCount == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = r.Upsert(Observation{MAC: mac, RSSI: -50})
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, _ = r.Upsert(Observation{MAC: mac, RSSI: -60})
	}()

	// Give the second upsert a chance to overtake the blocked listener.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	current, _ := r.Get(mac)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	last := events[1].Device
	if last.SeenCount != current.SeenCount || last.RSSI != current.RSSI {
		t.Errorf("last event rssi=%d seen=%d, registry rssi=%d seen=%d",
			last.RSSI, last.SeenCount, current.RSSI, current.SeenCount)
	}
	if current.RSSI != -60 {
		t.Errorf("registry rssi = %d, want -60", current.RSSI)
	}
}

func TestRegistry_Classifier(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.SetClassifier(NewServiceClassifier())

	d, err := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:0A", Services: []string{"0000180d-0000-1000-8000-00805f9b34fb"}})
	if err != nil {
		t.Fatal(err)
	}
	if d.Category != "heart_rate" {
		t.Errorf("Category = %q, want heart_rate", d.Category)
	}

	r.SetClassifier(nil)
	d, _ = r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:0B", Manufacturer: "Apple"})
	if d.Category != "" {
		t.Errorf("Category = %q without classifier, want empty", d.Category)
	}
}

func TestRegistry_Prune(t *testing.T) {
	r, _ := newTestRegistry(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	_, _ = r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:01"})
	_, _ = r.AddManual(context.Background(), "AA:BB:CC:DD:EE:02", ManualFields{Name: "keep"})
	now = base.Add(50 * time.Minute)
	_, _ = r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:03"})

	now = base.Add(time.Hour + time.Minute)
	if n := r.Prune(time.Hour); n != 1 {
		t.Fatalf("Prune() = %d, want 1", n)
	}
	if _, ok := r.Get("AA:BB:CC:DD:EE:01"); ok {
		t.Error("stale device was not pruned")
	}
	if _, ok := r.Get("AA:BB:CC:DD:EE:02"); !ok {
		t.Error("manual device must not be pruned")
	}
	if r.Prune(0) != 0 {
		t.Error("Prune(0) should be disabled")
	}
}

func TestRegistry_LastSeenNeverBeforeFirstSeen(t *testing.T) {
	r, _ := newTestRegistry(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	_, _ = r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:0C"})
	now = base.Add(-time.Hour) // clock stepped backwards
	d, _ := r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:0C"})

	if d.LastSeen.Before(d.FirstSeen) {
		t.Errorf("LastSeen %v before FirstSeen %v", d.LastSeen, d.FirstSeen)
	}
}

func TestRegistry_RunPersistenceFlushes(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.RunPersistence(ctx, 10*time.Millisecond, 0)
		close(done)
	}()

	_, _ = r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:0D"})

	deadline := time.Now().Add(2 * time.Second)
	for store.saveCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.saveCount() == 0 {
		t.Fatal("dirty registry was not flushed")
	}

	_, _ = r.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:0E"})
	cancel()
	<-done

	if _, ok := store.saved["AA:BB:CC:DD:EE:0E"]; !ok {
		t.Error("final flush on shutdown missing latest device")
	}
}

func TestRegistry_ConcurrentUpserts(t *testing.T) {
	r := NewRegistry(nil)

	const writers = 8
	const perWriter = 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, _ = r.Upsert(Observation{MAC: fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i%4), RSSI: -i, Source: fmt.Sprint(w)})
				_ = r.List()
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, d := range r.List() {
		total += d.SeenCount
	}
	if total != writers*perWriter {
		t.Errorf("sum of SeenCount = %d, want %d", total, writers*perWriter)
	}
}

func toMap(devices []*Device) map[string]*Device {
	out := make(map[string]*Device, len(devices))
	for _, d := range devices {
		out[d.MACAddress] = d
	}
	return out
}
