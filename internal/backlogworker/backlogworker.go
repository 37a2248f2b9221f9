// Package backlogworker drains the durable backlog queue on an
// interval, replaying each stored transaction against the backend and
// promoting permanently-rejected items to the dead queue.
package backlogworker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maxirmx/fuelflux-sub000/internal/backend"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

// Worker owns a dedicated Backend instance and periodically drains the
// backlog, independent of the Controller's user-facing session.
type Worker struct {
	store    *store.Store
	be       backend.Backend
	log      *logging.Logger
	cron     *cron.Cron
	interval time.Duration
}

// New builds a Worker that drains the backlog every interval.
func New(st *store.Store, be backend.Backend, interval time.Duration, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.NewFromEnv("backlogworker")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		store:    st,
		be:       be,
		log:      log,
		cron:     cron.New(),
		interval: interval,
	}
}

// Start schedules the recurring drain pass and runs one immediately.
func (w *Worker) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, func() { w.DrainPass(ctx) }); err != nil {
		return fmt.Errorf("backlogworker: schedule drain: %w", err)
	}
	w.cron.Start()
	w.DrainPass(ctx)
	return nil
}

// Stop halts the scheduler; an in-flight pass is allowed to finish.
func (w *Worker) Stop() {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
}

// DrainPass processes the backlog FIFO until empty or a network error
// forces an early stop (the remaining items are retried next pass).
func (w *Worker) DrainPass(ctx context.Context) {
	for {
		item, ok := w.store.GetNextBacklog(ctx)
		if !ok {
			return
		}
		if !w.processItem(ctx, item) {
			return
		}
	}
}

// processItem handles one backlog row per spec.md §4.5 and returns
// false when the pass should stop (a network error leaves the item in
// place for a later attempt).
func (w *Worker) processItem(ctx context.Context, item store.BacklogItem) bool {
	_, err := w.be.Authorize(ctx, item.UID)
	if err != nil {
		if backend.IsNetworkError(err) {
			w.log.WithContext(ctx).WithField("uid", item.UID).Debug("backlog drain: authorize network error, stopping pass")
			return false
		}
		w.log.WithContext(ctx).WithField("uid", item.UID).WithError(err).Warn("backlog drain: authorize application error")
		w.moveToDeadAndRemove(ctx, item)
		w.be.Deauthorize()
		return true
	}

	var replayErr error
	switch item.Method {
	case types.MethodRefuel:
		replayErr = w.be.RefuelPayload(ctx, item.Data)
	case types.MethodIntake:
		replayErr = w.be.IntakePayload(ctx, item.Data)
	}

	w.be.Deauthorize()

	if replayErr == nil {
		w.store.RemoveBacklog(ctx, item.RowID)
		return true
	}
	if backend.IsNetworkError(replayErr) {
		w.log.WithContext(ctx).WithField("uid", item.UID).Debug("backlog drain: replay network error, stopping pass")
		return false
	}

	w.log.WithContext(ctx).WithField("uid", item.UID).WithError(replayErr).Warn("backlog drain: replay application error")
	w.moveToDeadAndRemove(ctx, item)
	return true
}

func (w *Worker) moveToDeadAndRemove(ctx context.Context, item store.BacklogItem) {
	w.store.AddDead(ctx, item.UID, item.Method, item.Data)
	w.store.RemoveBacklog(ctx, item.RowID)
}
