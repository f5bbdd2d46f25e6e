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

package dbopen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartahq/cartanav/hierdb"
	hierdbmigrations "github.com/cartahq/cartanav/hierdb/migrations"
)

// Options controls connection-time behavior.
type Options struct {
	SkipMigrationCheck bool
	MigrationCheck     hierdbmigrations.CheckOptions
}

// ConnectToHierDB opens a pool against the hierarchy database using the
// HIERDB_* environment conventions and verifies the migration version.
func ConnectToHierDB(ctx context.Context, opts ...Options) (*pgxpool.Pool, error) {
	connectionString, err := hierDBURLFromEnv()
	if err != nil {
		return nil, errors.Join(ErrDatabaseNotConfigured, fmt.Errorf("failed to get HIERDB connection string: %w", err))
	}

	pool, err := hierdb.NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	var options Options
	if len(opts) > 0 {
		options = opts[0]
	}

	if !options.SkipMigrationCheck {
		if err := hierdbmigrations.CheckVersion(ctx, pool, options.MigrationCheck); err != nil {
			pool.Close()
			return nil, fmt.Errorf("HIERDB migration version check failed: %w", err)
		}
	}

	return pool, nil
}

// HierDBStore connects to the hierarchy database and wraps the pool in a
// Store.
func HierDBStore(ctx context.Context, opts ...Options) (*hierdb.Store, error) {
	pool, err := ConnectToHierDB(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return hierdb.NewStore(pool), nil
}
