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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cartahq/cartanav/config"
	"github.com/cartahq/cartanav/internal/dbopen"
	"github.com/cartahq/cartanav/internal/healthcheck"
	"github.com/cartahq/cartanav/internal/refresher"
	"github.com/cartahq/cartanav/internal/resolver"
	"github.com/cartahq/cartanav/internal/tiercache"
)

var sweeperOnce bool

func init() {
	cmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Keep the entity projection fresh",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "cartanav-sweeper"
			doneCtx, doneFx, err := setupTelemetry(servicename, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			return runSweeper(doneCtx)
		},
	}
	cmd.Flags().BoolVar(&sweeperOnce, "once", false, "Run one full refresh and exit")

	rootCmd.AddCommand(cmd)
}

func runSweeper(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := dbopen.HierDBStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to hierdb: %w", err)
	}
	defer store.Close()

	// The sweeper only writes projection rows; a single-tier cache is
	// enough for its own entity lookups.
	cache := tiercache.New(cfg.Cache.TierCache(), nil)
	res := resolver.NewResolver(cfg.Resolver.Resolver(), store, cache, nil)

	ref, err := refresher.New(cfg.Projection.Refresher(), res)
	if err != nil {
		return err
	}

	if sweeperOnce {
		return ref.RunNow(ctx)
	}

	healthServer := healthcheck.NewServer(healthcheck.GetConfigFromEnv())
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()
	healthServer.SetStatus(healthcheck.StatusHealthy)
	healthServer.SetReady(true)

	return ref.Run(ctx)
}
