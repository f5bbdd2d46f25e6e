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

package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartahq/cartanav/internal/dbopen"

	hierdbmigrations "github.com/cartahq/cartanav/hierdb/migrations"
)

func init() {
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  "Run hierarchy database migrations up to the latest embedded version",
	RunE:  migrate,
}

func migrate(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Minute))
	defer cancel()

	slog.Info("Running hierdb migrations")
	pool, err := dbopen.ConnectToHierDB(ctx, dbopen.Options{SkipMigrationCheck: true})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := hierdbmigrations.RunMigrationsUp(ctx, pool); err != nil {
		return err
	}
	slog.Info("hierdb migrations completed successfully")
	return nil
}
