package device

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ble_devices", "devices.json")
	store := NewFileStore(path)
	ctx := context.Background()

	in := map[string]*Device{
		"AA:BB:CC:DD:EE:01": testDevice("AA:BB:CC:DD:EE:01", "Thermo"),
	}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Thermo", out["AA:BB:CC:DD:EE:01"].Name)
	assert.True(t, in["AA:BB:CC:DD:EE:01"].LastSeen.Equal(out["AA:BB:CC:DD:EE:01"].LastSeen))
}

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(context.Background(), map[string]*Device{
		"AA:BB:CC:DD:EE:01": testDevice("AA:BB:CC:DD:EE:01", "Thermo"),
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"AA:BB:CC:DD:EE:01\": {\n    \"mac_address\"")

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"mac_address", "name", "rssi", "manufacturer", "services", "first_seen", "last_seen", "source", "added_manually"} {
		assert.Contains(t, raw["AA:BB:CC:DD:EE:01"], key)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".devices-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files should be renamed away")
}

func TestFileStore_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	out, err := NewFileStore(filepath.Join(dir, "absent.json")).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	out, err = NewFileStore(empty).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)

	// The registry keeps its table and reports ErrPersistence.
	reg := NewRegistry(NewFileStore(path))
	_, _ = reg.Upsert(Observation{MAC: "AA:BB:CC:DD:EE:01"})
	assert.ErrorIs(t, reg.Load(context.Background()), ErrPersistence)
	assert.Equal(t, 1, reg.Count())
}

func TestFileStore_ReadsLegacyFile(t *testing.T) {
	// Files written before seen_count and source existed.
	legacy := `{
  "AA:BB:CC:DD:EE:01": {
    "mac_address": "AA:BB:CC:DD:EE:01",
    "name": "Old",
    "rssi": -70,
    "manufacturer": "Unknown",
    "services": [],
    "first_seen": "2024-01-01T10:00:00",
    "last_seen": "2024-01-01T11:00:00",
    "added_manually": true
  }
}`
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	reg := NewRegistry(NewFileStore(path))
	require.NoError(t, reg.Load(context.Background()))

	d, ok := reg.Get("aa:bb:cc:dd:ee:01")
	require.True(t, ok)
	assert.Equal(t, "Old", d.Name)
	assert.True(t, d.AddedManually)
	assert.Equal(t, 1, d.SeenCount)
	assert.True(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).Equal(d.FirstSeen))
	assert.True(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC).Equal(d.LastSeen))
}

func TestFileStore_ReadsLegacyAdvertisedRecord(t *testing.T) {
	// Advertised records kept the raw manufacturer data and the proxy name.
	legacy := `{
  "AA:BB:CC:DD:EE:01": {
    "mac_address": "AA:BB:CC:DD:EE:01",
    "name": "Kept",
    "rssi": -70,
    "manufacturer": "Unknown",
    "services": [],
    "first_seen": "2024-01-01T10:00:00",
    "last_seen": "2024-01-01T11:00:00",
    "added_manually": true
  },
  "AA:BB:CC:DD:EE:02": {
    "mac_address": "AA:BB:CC:DD:EE:02",
    "name": "Tag",
    "rssi": -61,
    "manufacturer": {"76": "0215"},
    "services": ["180f"],
    "first_seen": "2024-01-01T10:00:00",
    "last_seen": "2024-01-01T10:05:00",
    "proxy": "hallway"
  },
  "AA:BB:CC:DD:EE:03": {
    "mac_address": "AA:BB:CC:DD:EE:03",
    "manufacturer": {"65500": "00"},
    "first_seen": "2024-01-01T10:00:00",
    "last_seen": "2024-01-01T10:00:00"
  },
  "AA:BB:CC:DD:EE:04": {"rssi": "loud"}
}`
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	reg := NewRegistry(NewFileStore(path))
	require.NoError(t, reg.Load(context.Background()))
	assert.Equal(t, 3, reg.Count())

	kept, ok := reg.Get("AA:BB:CC:DD:EE:01")
	require.True(t, ok)
	assert.True(t, kept.AddedManually)

	tag, ok := reg.Get("AA:BB:CC:DD:EE:02")
	require.True(t, ok)
	assert.Equal(t, "Apple", tag.Manufacturer)
	assert.Equal(t, "hallway", tag.Source)
	assert.Equal(t, []string{"180f"}, tag.Services)

	unknown, ok := reg.Get("AA:BB:CC:DD:EE:03")
	require.True(t, ok)
	assert.Equal(t, UnknownManufacturer, unknown.Manufacturer)

	_, ok = reg.Get("AA:BB:CC:DD:EE:04")
	assert.False(t, ok)
}

func TestRedisStore_SkipsUndecodableRecords(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, client.HSet(ctx, "devices",
		"AA:BB:CC:DD:EE:01", `{"mac_address":"AA:BB:CC:DD:EE:01","name":"ok"}`,
		"AA:BB:CC:DD:EE:02", `{"seen_count":"many"}`,
	).Err())

	reg := NewRegistry(NewRedisStore(client, "devices"))
	require.NoError(t, reg.Load(ctx))
	assert.Equal(t, 1, reg.Count())
}

func TestDecodeDevice_Timestamps(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2026-01-02T03:04:05Z", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"offset", "2026-01-02T05:04:05+02:00", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"fractional no zone", "2026-01-02T03:04:05.250000", time.Date(2026, 1, 2, 3, 4, 5, 250000000, time.UTC), false},
		{"garbage", "yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{"mac_address":"AA:BB:CC:DD:EE:01","first_seen":"` + tt.value + `","last_seen":"` + tt.value + `"}`)
			d, err := decodeDevice(data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(d.FirstSeen), "got %v", d.FirstSeen)
			assert.NotNil(t, d.Services)
		})
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_SaveLoad(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "")
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Save(ctx, map[string]*Device{
		"AA:BB:CC:DD:EE:01": testDevice("AA:BB:CC:DD:EE:01", "One"),
		"AA:BB:CC:DD:EE:02": testDevice("AA:BB:CC:DD:EE:02", "Two"),
	}))

	assert.True(t, mr.Exists(DefaultRedisKey))
	keys, err := mr.HKeys(DefaultRedisKey)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Two", out["AA:BB:CC:DD:EE:02"].Name)
	assert.Equal(t, []string{"181A", "FE95"}, out["AA:BB:CC:DD:EE:01"].Services)
}

func TestRedisStore_SaveReplaces(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "test:devices")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, map[string]*Device{
		"AA:BB:CC:DD:EE:01": testDevice("AA:BB:CC:DD:EE:01", "One"),
		"AA:BB:CC:DD:EE:02": testDevice("AA:BB:CC:DD:EE:02", "Two"),
	}))
	require.NoError(t, store.Save(ctx, map[string]*Device{
		"AA:BB:CC:DD:EE:02": testDevice("AA:BB:CC:DD:EE:02", "Two"),
	}))
	keys, err := mr.HKeys("test:devices")
	require.NoError(t, err)
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:02"}, keys)

	require.NoError(t, store.Save(ctx, map[string]*Device{}))
	assert.False(t, mr.Exists("test:devices"))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "")
	mr.Close()

	reg := NewRegistry(store)
	_, err := reg.AddManual(context.Background(), "AA:BB:CC:DD:EE:01", ManualFields{Name: "kept"})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, uint64(1), reg.Stats().PersistFailures)
}
