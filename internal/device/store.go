package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Store persists the whole device table. Implementations are called only
// by Registry.Persist and Registry.Load, which serialise access.
type Store interface {
	// Save replaces the stored table with devices, keyed by canonical MAC.
	Save(ctx context.Context, devices map[string]*Device) error

	// Load returns the stored table. An empty store yields an empty map.
	// A record that cannot be decoded is returned as a nil entry so the
	// rest of the table still loads.
	Load(ctx context.Context) (map[string]*Device, error)
}

// FileStore keeps the table in a JSON file: an object keyed by uppercase
// MAC whose values are Device records.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore writing to path. Parent directories are
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the table atomically via a temp file and rename.
func (s *FileStore) Save(_ context.Context, devices map[string]*Device) error {
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating device directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".devices-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing device file: %w", err)
	}
	return nil
}

// Load reads the table. A missing file is an empty table.
func (s *FileStore) Load(_ context.Context) (map[string]*Device, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*Device{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading device file: %w", err)
	}

	devices := make(map[string]*Device)
	if len(data) == 0 {
		return devices, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding device file: %w", err)
	}
	for mac, entry := range raw {
		// Undecodable records load as nil and are skipped by Registry.Load.
		devices[mac], _ = decodeDevice(entry)
	}
	return devices, nil
}

// legacyTimeLayouts are the zone-less ISO 8601 forms written by earlier
// releases. They are read as UTC.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// decodeDevice decodes one stored record, accepting timestamps with or
// without a zone. Records missing seen_count count as seen once.
//
// Older files stored advertised devices with the raw manufacturer data
// object ({"76": "0215..."}) and the proxy name under "proxy"; both are
// mapped onto the current fields.
func decodeDevice(data []byte) (*Device, error) {
	var rec struct {
		Device
		Manufacturer json.RawMessage `json:"manufacturer"`
		Proxy        string          `json:"proxy"`
		FirstSeen    string          `json:"first_seen"`
		LastSeen     string          `json:"last_seen"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	d := rec.Device
	var err error
	if d.Manufacturer, err = storedManufacturer(rec.Manufacturer); err != nil {
		return nil, fmt.Errorf("manufacturer: %w", err)
	}
	if d.Source == "" {
		d.Source = rec.Proxy
	}
	if d.FirstSeen, err = parseStoredTime(rec.FirstSeen); err != nil {
		return nil, fmt.Errorf("first_seen: %w", err)
	}
	if d.LastSeen, err = parseStoredTime(rec.LastSeen); err != nil {
		return nil, fmt.Errorf("last_seen: %w", err)
	}
	if d.LastSeen.Before(d.FirstSeen) {
		d.LastSeen = d.FirstSeen
	}
	if d.SeenCount < 1 {
		d.SeenCount = 1
	}
	if d.Services == nil {
		d.Services = []string{}
	}
	return &d, nil
}

// storedManufacturer accepts a name, or a manufacturer data object keyed
// by decimal company ID. The lowest known ID names the object; an object
// with none is UnknownManufacturer.
func storedManufacturer(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name, nil
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", err
	}
	ids := make([]int, 0, len(data))
	for key := range data {
		if id, err := strconv.ParseUint(key, 10, 16); err == nil {
			ids = append(ids, int(id))
		}
	}
	sort.Ints(ids)
	for _, id := range ids {
		if name := ManufacturerName(uint16(id)); name != "" {
			return name, nil
		}
	}
	return UnknownManufacturer, nil
}

func parseStoredTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
