// Package store is the optional authoritative, sqlite-backed persistence
// layer behind the directory's in-memory TTL cache (spec.md §8.2's
// "Directory (C8)" persisted-store variant) and the supervisor's restart
// backoff state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btclog/v2"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nimbus-actors/nimbus/internal/actor"
	"github.com/nimbus-actors/nimbus/internal/directory"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the subsystem logger used by the store package.
func UseLogger(logger btclog.Logger) { log = logger }

const (
	defaultMaxConns        = 25
	defaultConnMaxLifetime = 10 * time.Minute
)

// Config configures the sqlite-backed store.
type Config struct {
	// DatabaseFileName is the full path to the sqlite database file.
	DatabaseFileName string

	// SkipMigrations skips running migrations on open, for tests that
	// manage schema themselves.
	SkipMigrations bool

	// SkipMigrationDBBackup skips the VACUUM INTO backup that normally
	// precedes an up migration.
	SkipMigrationDBBackup bool
}

// Store is the sqlite-backed persistence layer. It implements
// directory.Store directly, and exposes supervisor backoff persistence
// alongside it.
type Store struct {
	cfg Config
	db  *sql.DB
	tx  *TransactionExecutor
}

// Open opens (creating if necessary) the sqlite database at
// cfg.DatabaseFileName, applying pragmas and, unless skipped, migrations.
func Open(cfg Config) (*Store, error) {
	dir := filepath.Dir(cfg.DatabaseFileName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000",
		cfg.DatabaseFileName)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxConns)
	db.SetMaxIdleConns(defaultMaxConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{
		cfg: cfg,
		db:  db,
		tx:  NewTransactionExecutor(db, log),
	}

	if !cfg.SkipMigrations {
		if err := s.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("error executing migrations: %w", err)
		}
	}

	return s, nil
}

func (s *Store) migrate() error {
	driver, err := sqlite_migrate.WithInstance(s.db, &sqlite_migrate.Config{})
	if err != nil {
		return fmt.Errorf("error creating sqlite migration driver: %w", err)
	}

	opts := defaultMigrateOptions()

	if !s.cfg.SkipMigrationDBBackup {
		currentVersion, _, _ := driver.Version()
		if currentVersion < int(opts.latestVersion) {
			if err := backupSqliteDatabase(s.db, s.cfg.DatabaseFileName, log); err != nil {
				return err
			}
		}
	}

	return applyMigrations(sqlSchemas, driver, "migrations", "sqlite", TargetLatest, opts, log)
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DefaultDBPath returns the default path for the nimbus directory database.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".nimbus", "nimbus.db"), nil
}

// Get implements directory.Store.
func (s *Store) Get(ctx context.Context, addr actor.Address) (directory.Location, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node, transport, endpoint FROM directory_entries WHERE address = ?`,
		addr.Path())

	var loc directory.Location
	err := row.Scan(&loc.Node, &loc.Transport, &loc.Endpoint)
	if err == sql.ErrNoRows {
		return directory.Location{}, false, nil
	}
	if err != nil {
		return directory.Location{}, false, MapSQLError(err)
	}
	return loc, true, nil
}

// Put implements directory.Store.
func (s *Store) Put(ctx context.Context, addr actor.Address, loc directory.Location) error {
	return s.tx.ExecTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO directory_entries (address, node, transport, endpoint, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				node = excluded.node,
				transport = excluded.transport,
				endpoint = excluded.endpoint,
				updated_at = excluded.updated_at
		`, addr.Path(), loc.Node, loc.Transport, loc.Endpoint, time.Now().Unix())
		return err
	})
}

// Delete implements directory.Store.
func (s *Store) Delete(ctx context.Context, addr actor.Address) error {
	return s.tx.ExecTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM directory_entries WHERE address = ?`, addr.Path())
		return err
	})
}

var _ directory.Store = (*Store)(nil)

// BackoffState is the persisted restart-backoff state for one supervised
// actor, surviving a daemon restart.
type BackoffState struct {
	Attempt         int
	WindowStartedAt time.Time
}

// GetBackoff loads the persisted backoff state for addr, if any.
func (s *Store) GetBackoff(ctx context.Context, addr actor.Address) (BackoffState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT attempt, window_started_at FROM supervisor_backoff WHERE address = ?`,
		addr.Path())

	var (
		attempt   int
		windowUTC int64
	)
	err := row.Scan(&attempt, &windowUTC)
	if err == sql.ErrNoRows {
		return BackoffState{}, false, nil
	}
	if err != nil {
		return BackoffState{}, false, MapSQLError(err)
	}
	return BackoffState{Attempt: attempt, WindowStartedAt: time.Unix(windowUTC, 0)}, true, nil
}

// PutBackoff persists the backoff state for addr.
func (s *Store) PutBackoff(ctx context.Context, addr actor.Address, state BackoffState) error {
	return s.tx.ExecTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO supervisor_backoff (address, attempt, window_started_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				attempt = excluded.attempt,
				window_started_at = excluded.window_started_at,
				updated_at = excluded.updated_at
		`, addr.Path(), state.Attempt, state.WindowStartedAt.Unix(), time.Now().Unix())
		return err
	})
}

// DeleteBackoff clears persisted backoff state for addr, e.g. on a clean
// stop.
func (s *Store) DeleteBackoff(ctx context.Context, addr actor.Address) error {
	return s.tx.ExecTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM supervisor_backoff WHERE address = ?`, addr.Path())
		return err
	})
}
