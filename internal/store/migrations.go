package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// sqlSchemas is an embedded file system containing the SQL migration files
// for the directory's authoritative store.
//
//go:embed migrations/*.sql
var sqlSchemas embed.FS

// LatestMigrationVersion is the latest migration version of the directory
// store. NOTE: this MUST be updated when a new migration is added.
const LatestMigrationVersion uint = 1

// MigrationTarget is a functional option passed to applyMigrations to
// specify which version to migrate to.
type MigrationTarget func(mig *migrate.Migrate, currentDBVersion int, maxMigrationVersion uint) error

// TargetLatest migrates to the latest version available.
var TargetLatest MigrationTarget = func(mig *migrate.Migrate, _ int, _ uint) error {
	return mig.Up()
}

// TargetVersion returns a MigrationTarget that migrates to the given
// version.
func TargetVersion(version uint) MigrationTarget {
	return func(mig *migrate.Migrate, _ int, _ uint) error {
		return mig.Migrate(version)
	}
}

// ErrMigrationDowngrade is returned when a database downgrade is detected.
var ErrMigrationDowngrade = errors.New("store: database downgrade detected")

type migrateOptions struct {
	latestVersion uint
}

func defaultMigrateOptions() *migrateOptions {
	return &migrateOptions{latestVersion: LatestMigrationVersion}
}

// MigrateOpt is a functional option modifying migration behaviour.
type MigrateOpt func(*migrateOptions)

// WithLatestVersion overrides the default latest migration version.
func WithLatestVersion(version uint) MigrateOpt {
	return func(o *migrateOptions) { o.latestVersion = version }
}

type migrationLogger struct {
	log btclog.Logger
}

func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Infof(format, v...)
}

func (m *migrationLogger) Verbose() bool { return true }

func applyMigrations(fsys fs.FS, driver database.Driver, path, dbName string,
	targetVersion MigrationTarget, opts *migrateOptions, log btclog.Logger) error {

	migrateFileServer, err := httpfs.New(http.FS(fsys), path)
	if err != nil {
		return err
	}

	sqlMigrate, err := migrate.NewWithInstance("migrations", migrateFileServer, dbName, driver)
	if err != nil {
		return err
	}

	migrationVersion, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in a dirty state at version %v, "+
			"manual intervention required", migrationVersion)
	}

	if migrationVersion > opts.latestVersion {
		return fmt.Errorf("%w: db_version=%v, latest_migration_version=%v",
			ErrMigrationDowngrade, migrationVersion, opts.latestVersion)
	}

	currentDBVersion, _, err := driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.Infof("attempting to apply migration(s): current=%v latest=%v",
		currentDBVersion, opts.latestVersion)

	sqlMigrate.Log = &migrationLogger{log}

	err = targetVersion(sqlMigrate, currentDBVersion, opts.latestVersion)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	currentDBVersion, _, err = driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.Infof("database version after migration: %v", currentDBVersion)

	return nil
}

func backupSqliteDatabase(srcDB *sql.DB, dbFullFilePath string, log btclog.Logger) error {
	if srcDB == nil {
		return fmt.Errorf("backup source database is nil")
	}

	timestamp := time.Now().UnixNano()
	backupFullFilePath := fmt.Sprintf("%s.%d.backup", dbFullFilePath, timestamp)

	log.Infof("creating backup of database file: %s -> %s", dbFullFilePath, backupFullFilePath)

	stmt, err := srcDB.Prepare("VACUUM INTO ?;")
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(backupFullFilePath)
	return err
}
