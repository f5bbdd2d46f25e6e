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
	"github.com/cartahq/cartanav/internal/navapi"
	"github.com/cartahq/cartanav/internal/poolhealth"
	"github.com/cartahq/cartanav/internal/resolver"
	"github.com/cartahq/cartanav/internal/tiercache"
)

func init() {
	cmd := &cobra.Command{
		Use:   "resolverd",
		Short: "Run the hierarchy resolver service",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "cartanav-resolverd"
			doneCtx, doneFx, err := setupTelemetry(servicename, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			return runResolverd(doneCtx)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runResolverd(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	healthServer := healthcheck.NewServer(healthcheck.GetConfigFromEnv())
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()
	healthServer.SetStatus(healthcheck.StatusHealthy)

	store, err := dbopen.HierDBStore(ctx)
	if err != nil {
		healthServer.SetStatus(healthcheck.StatusUnhealthy)
		return fmt.Errorf("failed to connect to hierdb: %w", err)
	}
	defer store.Close()
	healthServer.SetReadyCondition("database", true)

	cache, err := buildTierCache(ctx, cfg, healthServer)
	if err != nil {
		return err
	}

	monitor := poolhealth.NewMonitor(cfg.PoolHealth.Monitor(), poolhealth.PoolSource{Pool: store.Pool()})
	go monitor.Run(ctx)

	res := resolver.NewResolver(cfg.Resolver.Resolver(), store, cache, monitor)
	service := navapi.NewService(res)

	healthServer.SetReady(true)
	slog.Info("Resolver service ready")

	err = service.Run(ctx)
	healthServer.SetReady(false)
	return err
}

// buildTierCache wires the two cache tiers. A missing redis address is a
// supported single-tier deployment, not an error; an unreachable redis is
// reported as a readiness condition but the service still starts, since
// the cache degrades to L1-only on remote failure.
func buildTierCache(ctx context.Context, cfg *config.Config, healthServer *healthcheck.Server) (*tiercache.Cache, error) {
	if cfg.Redis.Addr == "" {
		slog.Info("Distributed cache not configured, running single-tier")
		return tiercache.New(cfg.Cache.TierCache(), nil), nil
	}

	remote := tiercache.NewRedisRemote(cfg.Redis.TierCache())
	if err := remote.Ping(ctx); err != nil {
		slog.Warn("Distributed cache unreachable at startup", slog.Any("error", err))
		healthServer.SetReadyCondition("distributed_cache", false)
	} else {
		healthServer.SetReadyCondition("distributed_cache", true)
	}
	return tiercache.New(cfg.Cache.TierCache(), remote), nil
}
