// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed *.sql
var migrationFiles embed.FS

const migrationsTable = "gomigrate_hierdb"

// CheckMode selects how a version mismatch at connect time is handled.
type CheckMode int

const (
	// CheckModeWait blocks until the database reaches the embedded
	// version, failing after the timeout.
	CheckModeWait CheckMode = iota
	// CheckModeWarn logs the mismatch and continues.
	CheckModeWarn
	// CheckModeSkip disables checking entirely.
	CheckModeSkip
)

// CheckOptions tunes version checking. The zero value waits with sane
// timeouts.
type CheckOptions struct {
	Mode          CheckMode
	Timeout       time.Duration
	RetryInterval time.Duration
	AllowDirty    bool
}

func (o CheckOptions) withDefaults() CheckOptions {
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	return o
}

// RunMigrationsUp applies all up migrations using embedded migration files.
func RunMigrationsUp(ctx context.Context, pool *pgxpool.Pool) error {
	m, cleanup, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer cleanup()

	_, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return errors.New("migration is dirty, please fix it before proceeding")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// CheckVersion verifies that the hierdb database is at the version of the
// newest embedded migration.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, options CheckOptions) error {
	if !migrationCheckEnabledFromEnv() {
		slog.Debug("Migration version checking disabled for hierdb")
		return nil
	}

	opts := options.withDefaults()
	if opts.Mode == CheckModeSkip {
		slog.Debug("Migration version checking skipped for hierdb")
		return nil
	}

	expected, err := latestEmbeddedVersion()
	if err != nil {
		return fmt.Errorf("failed to determine expected migration version: %w", err)
	}

	m, cleanup, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer cleanup()

	deadline := time.Now().Add(opts.Timeout)
	for {
		version, dirty, err := m.Version()
		switch {
		case err != nil && !errors.Is(err, migrate.ErrNilVersion):
			return fmt.Errorf("failed to read hierdb migration version: %w", err)
		case dirty && !opts.AllowDirty:
			return fmt.Errorf("hierdb migrations are dirty at version %d", version)
		case err == nil && version == expected:
			return nil
		case err == nil && version > expected:
			// A newer binary already migrated past us; old readers stay
			// compatible within a release, so this is only worth a warning.
			slog.Warn("hierdb migration version is newer than expected",
				slog.Uint64("have", uint64(version)), slog.Uint64("want", uint64(expected)))
			return nil
		}

		if opts.Mode == CheckModeWarn {
			slog.Warn("hierdb migration version mismatch, continuing",
				slog.Uint64("want", uint64(expected)))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for hierdb migrations to reach version %d", expected)
		}
		slog.Info("Waiting for hierdb migrations",
			slog.Uint64("want", uint64(expected)), slog.Duration("retryIn", opts.RetryInterval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}
}

func newMigrator(pool *pgxpool.Pool) (*migrate.Migrate, func(), error) {
	sourceDriver, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs driver: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)

	dbDriver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create pgx driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	cleanup := func() {
		_ = dbDriver.Close()
		_ = sqlDB.Close()
	}
	return m, cleanup, nil
}

// latestEmbeddedVersion parses the embedded filenames for the highest
// migration version number.
func latestEmbeddedVersion() (uint, error) {
	entries, err := migrationFiles.ReadDir(".")
	if err != nil {
		return 0, err
	}
	var latest uint64
	for _, entry := range entries {
		name := entry.Name()
		idx := strings.IndexByte(name, '_')
		if idx <= 0 {
			continue
		}
		v, err := strconv.ParseUint(name[:idx], 10, 32)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0, errors.New("no embedded migration files found")
	}
	return uint(latest), nil
}

func migrationCheckEnabledFromEnv() bool {
	if val := os.Getenv("HIERDB_MIGRATION_CHECK_ENABLED"); val != "" {
		return strings.ToLower(val) == "true"
	}
	return true
}
