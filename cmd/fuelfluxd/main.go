// Command fuelfluxd is the FuelFlux embedded fuel-dispensing controller
// daemon. It wires together the backend client, the durable store, the
// offline allowance cache, the transaction state machine, the console
// peripherals, and the local diagnostics surface, then runs the
// controller's single event loop until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxirmx/fuelflux-sub000/internal/backend"
	"github.com/maxirmx/fuelflux-sub000/internal/backlogworker"
	"github.com/maxirmx/fuelflux-sub000/internal/cachemgr"
	"github.com/maxirmx/fuelflux-sub000/internal/config"
	"github.com/maxirmx/fuelflux-sub000/internal/controller"
	"github.com/maxirmx/fuelflux-sub000/internal/diagnostics"
	"github.com/maxirmx/fuelflux-sub000/internal/executor"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/metrics"
	"github.com/maxirmx/fuelflux-sub000/internal/peripherals/console"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
)

func main() {
	cfg := config.Load()

	logging.InitDefault(cfg.ControllerID, cfg.LogLevel, cfg.LogFormat)
	logger := logging.Default()

	st, err := store.Open(cfg.StoreDBPath, logger)
	if err != nil {
		log.Fatalf("fuelfluxd: open store: %v", err)
	}
	defer st.Close()

	exec := executor.New(cfg.ExecutorWorkers, cfg.ExecutorQueueLen, logger)
	defer exec.Shutdown()

	// The controller's user-facing client shares the store (for
	// backlog recording) and executor (for fire-and-forget deauthorize),
	// and is rate-limited per spec.md §4.2.
	be := backend.New(cfg.BackendBaseURL, cfg.ControllerID, logger,
		backend.WithStore(st),
		backend.WithExecutor(exec),
		backend.WithRateLimit(cfg.BackendRateLimitPerSecond, cfg.BackendRateLimitBurst),
	)

	// Cache population runs on its own dedicated client so its
	// authorize/deauthorize cycle never races the controller's own
	// bearer token.
	cacheBe := backend.New(cfg.BackendBaseURL, cfg.ControllerID, logger)
	cache := cachemgr.New(st, cacheBe, cfg.ControllerID, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go cache.Start(ctx)
	defer cache.Stop()

	// The backlog worker also gets its own dedicated client, independent
	// of both the controller's and the cache manager's bearer tokens.
	backlogBe := backend.New(cfg.BackendBaseURL, cfg.ControllerID, logger)
	worker := backlogworker.New(st, backlogBe, cfg.BacklogInterval, logger)
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("fuelfluxd: start backlog worker: %v", err)
	}
	defer worker.Stop()

	display := console.NewDisplay(logger)
	keyboard := console.NewKeyboard()
	cardReader := console.NewCardReader()
	pump := console.NewPump()
	meter := console.NewFlowMeter()

	ctrl := controller.New(be, st, cache, display, keyboard, cardReader, pump, meter,
		cfg.ControllerID, cfg.NoFlowTimeout, logger)

	m := metrics.New()
	ctrl.SetMetrics(m)
	go sampleGaugesLoop(ctx, m, st, ctrl)

	diag := diagnostics.New(cfg.DiagnosticsAddr, cfg.StoreDBPath, st, ctrl, be, logger)
	diag.Start()

	ctrl.Initialize()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		ctrl.Run(ctx)
	}()

	logger.WithFields(nil).Info("fuelfluxd started")
	<-ctx.Done()
	logger.Info("shutting down")

	ctrl.Shutdown()
	<-runDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := diag.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("diagnostics shutdown error")
	}
}

// sampleGaugesLoop periodically refreshes the point-in-time metrics
// gauges until ctx is cancelled.
func sampleGaugesLoop(ctx context.Context, m *metrics.Metrics, st *store.Store, ctrl *controller.Controller) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleGauges(ctrl.QueueDepth(), st.BacklogCount(ctx), st.DeadCount(ctx), st.CacheSize(ctx))
		}
	}
}
