package database

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"time"
)

// ErrMigrationChanged means an already-applied migration file no longer
// matches the checksum recorded when it ran.
var ErrMigrationChanged = errors.New("database: applied migration was modified")

// migrationFile matches YYYYMMDD_HHMMSS[_name].up.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})(?:_(.+))?\.up\.sql$`)

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	applied_at TEXT NOT NULL
)`

// Migration is one forward-only schema change.
type Migration struct {
	Version  string
	Name     string
	SQL      string
	Checksum string
}

// Applied is a row of the migration ledger.
type Applied struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Migrate brings the schema up to date with the migrations in fsys.
//
// Pending migrations run oldest first, each in its own transaction
// together with its ledger row. The first failure stops the run; earlier
// migrations stay committed so a rerun resumes after them. A recorded
// migration whose file has since changed fails with ErrMigrationChanged
// before anything runs.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}

	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	done, err := db.AppliedMigrations(ctx)
	if err != nil {
		return err
	}

	byVersion := make(map[string]Applied, len(done))
	for _, a := range done {
		byVersion[a.Version] = a
	}

	var pending []Migration
	for _, m := range all {
		a, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return fmt.Errorf("%w: %s", ErrMigrationChanged, m.Version)
		}
	}

	for _, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %s %s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// AppliedMigrations lists the ledger in version order.
func (db *DB) AppliedMigrations(ctx context.Context) ([]Applied, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var (
			a  Applied
			at string
		)
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum, &at); err != nil {
			return nil, fmt.Errorf("reading migration ledger: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // zero time on legacy rows
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		m.Version, m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return tx.Commit()
}

// LoadMigrations reads the *.up.sql files at the root of fsys, ordered by
// version. Other files are skipped.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	var out []Migration
	for _, name := range names {
		version, label, ok := parseMigrationFilename(path.Base(name))
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     label,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFilename splits "20260101_000000_ble_devices.up.sql" into
// "20260101_000000" and "ble_devices".
func parseMigrationFilename(filename string) (version, name string, ok bool) {
	m := migrationFile.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
