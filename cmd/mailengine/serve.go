package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/mailengine/internal/api"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

var allowedOrigins []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the pool sweeper and the bulk workers",
	Long: `Serve exposes pool and queue telemetry plus send endpoints over HTTP.

When bulk.enabled is set (or BULK_ENABLED=true) it also connects to Redis and
runs the bulk test processor and lease recovery in the same process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "cors-origin", nil, "allowed CORS origins")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newEngineRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	deps := api.Deps{
		Pool:     rt.pool,
		Engine:   rt.engine,
		Settings: rt.settings,
		DB:       rt.db,
		OrgID:    cfg.Settings.OrgID,
	}

	var bulk *bulkRuntime
	if cfg.Bulk.Enabled {
		bulk, err = newBulkRuntime(ctx, cfg)
		if err != nil {
			return fmt.Errorf("bulk workers: %w", err)
		}
		deps.Queue = bulk.queue
		deps.Bulk = bulk.enqueuer
		deps.Redis = bulk.client
	} else {
		logger.Info("[Main] bulk workers disabled")
	}

	// Background loops drain before Redis and the pool are released.
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		if bulk != nil {
			bulk.Close()
		}
		logger.Info("[Main] stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.pool.Run(ctx)
	}()
	if bulk != nil {
		bulk.startWorkers(ctx, &wg, cfg, rt.engine)
	}

	server := api.NewServer(deps, allowedOrigins)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		logger.Info("[Main] listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("[Main] shutting down")
	case err := <-errCh:
		cancel()
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Main] shutdown", "error", err)
	}
	return nil
}
