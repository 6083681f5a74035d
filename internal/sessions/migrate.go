package sessions

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema step. Files are named
// NNNN_name.up.sql and NNNN_name.down.sql; NNNN is the schema version the
// step produces.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// ID returns the file stem, e.g. "0002_sessions_updated_index".
func (m Migration) ID() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// Migrator moves the database between schema versions. The current version
// lives in SQLite's user_version header field, so no bookkeeping table is
// needed.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator loads the embedded migrations for db.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, migrations: migrations}, nil
}

// Version reports the schema version of the database.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var v int
	if err := m.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Up applies up to steps pending migrations, all of them when steps <= 0,
// and returns the IDs applied.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}
	var done []string
	for _, mig := range pending {
		if strings.TrimSpace(mig.Up) == "" {
			return done, fmt.Errorf("migration %s has no up step", mig.ID())
		}
		if err := m.step(ctx, mig.Up, mig.Version); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", mig.ID(), err)
		}
		done = append(done, mig.ID())
	}
	return done, nil
}

// Down reverts the newest steps applied migrations (at least one) and
// returns the IDs reverted.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var done []string
	for i := len(applied) - 1; i >= 0 && len(done) < steps; i-- {
		mig := applied[i]
		target := 0
		if i > 0 {
			target = applied[i-1].Version
		}
		if err := m.step(ctx, mig.Down, target); err != nil {
			return done, fmt.Errorf("revert migration %s: %w", mig.ID(), err)
		}
		done = append(done, mig.ID())
	}
	return done, nil
}

// Status splits the known migrations into applied and pending.
func (m *Migrator) Status(ctx context.Context) (applied, pending []Migration, err error) {
	current, err := m.Version(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, mig := range m.migrations {
		if mig.Version <= current {
			applied = append(applied, mig)
		} else {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

// step runs script and records version in one transaction.
func (m *Migrator) step(ctx context.Context, script string, version int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(version)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	byVersion := map[int]*Migration{}
	for _, file := range files {
		stem, up := strings.CutSuffix(path.Base(file), ".up.sql")
		if !up {
			var down bool
			if stem, down = strings.CutSuffix(path.Base(file), ".down.sql"); !down {
				continue
			}
		}
		num, name, ok := strings.Cut(stem, "_")
		version, convErr := strconv.Atoi(num)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must look like NNNN_name", file)
		}
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version, Name: name}
			byVersion[version] = mig
		} else if mig.Name != name {
			return nil, fmt.Errorf("migration version %d is used by %q and %q", version, mig.Name, name)
		}
		if up {
			mig.Up = string(data)
		} else {
			mig.Down = string(data)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
