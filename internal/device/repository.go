package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore persists the device table in the ble_devices table created
// by the embedded migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save replaces every row in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, devices map[string]*Device) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM ble_devices"); err != nil {
		return fmt.Errorf("clearing devices: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ble_devices (
			mac_address, name, rssi, manufacturer, services,
			first_seen, last_seen, seen_count, source, added_manually, category
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for mac, d := range devices {
		services, err := json.Marshal(d.Services)
		if err != nil {
			return fmt.Errorf("encoding services for %s: %w", mac, err)
		}
		if _, err := stmt.ExecContext(ctx,
			mac,
			d.Name,
			d.RSSI,
			d.Manufacturer,
			string(services),
			d.FirstSeen.UTC().Format(time.RFC3339Nano),
			d.LastSeen.UTC().Format(time.RFC3339Nano),
			d.SeenCount,
			d.Source,
			d.AddedManually,
			d.Category,
		); err != nil {
			return fmt.Errorf("inserting device %s: %w", mac, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing devices: %w", err)
	}
	return nil
}

// Load reads every row.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mac_address, name, rssi, manufacturer, services,
			first_seen, last_seen, seen_count, source, added_manually, category
		FROM ble_devices`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := make(map[string]*Device)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices[d.MACAddress] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

func scanDevice(rows *sql.Rows) (*Device, error) {
	var (
		d         Device
		services  string
		firstSeen string
		lastSeen  string
	)
	if err := rows.Scan(
		&d.MACAddress,
		&d.Name,
		&d.RSSI,
		&d.Manufacturer,
		&services,
		&firstSeen,
		&lastSeen,
		&d.SeenCount,
		&d.Source,
		&d.AddedManually,
		&d.Category,
	); err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	if err := json.Unmarshal([]byte(services), &d.Services); err != nil {
		return nil, fmt.Errorf("decoding services for %s: %w", d.MACAddress, err)
	}
	if d.Services == nil {
		d.Services = []string{}
	}

	var err error
	if d.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen for %s: %w", d.MACAddress, err)
	}
	if d.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen for %s: %w", d.MACAddress, err)
	}
	return &d, nil
}
