// Package cachemgr owns the nightly (and retry-on-failure) population
// of the offline user allowance cache from the backend's card roster,
// plus the per-user cache operations the controller uses at runtime.
package cachemgr

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maxirmx/fuelflux-sub000/internal/backend"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

const (
	populationPageSize = 100
	retryInterval      = 60 * time.Minute
	dailyHour          = 2 // local time, 02:00
)

// Manager runs the scheduled cache population cycle on a dedicated
// Backend instance, kept separate from the user-facing one so the two
// never share a bearer token.
type Manager struct {
	store         *store.Store
	be            backend.Backend
	controllerUID string
	log           *logging.Logger
	cron          *cron.Cron

	mu          sync.Mutex
	lastSuccess bool
	running     bool
	stopCh      chan struct{}
}

// New builds a Manager. be must be a dedicated Backend instance, not
// shared with the Controller's user-facing client.
func New(st *store.Store, be backend.Backend, controllerUID string, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewFromEnv("cachemgr")
	}
	return &Manager{
		store:         st,
		be:            be,
		controllerUID: controllerUID,
		log:           log,
		cron:          cron.New(cron.WithLocation(time.Local)),
		stopCh:        make(chan struct{}),
	}
}

// Start triggers an immediate population, then schedules subsequent
// cycles: next day at 02:00 local on success, in 60 minutes on
// failure. Start returns once the first population attempt completes.
func (m *Manager) Start(ctx context.Context) {
	m.cron.Start()
	m.runCycle(ctx)
}

// Stop signals stopCh and halts the cron scheduler. An in-flight
// population aborts before fetching its next page, and no further
// scheduled cycle runs.
func (m *Manager) Stop() {
	close(m.stopCh)
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
}

func (m *Manager) runCycle(ctx context.Context) {
	ok := m.populate(ctx)

	m.mu.Lock()
	m.lastSuccess = ok
	m.mu.Unlock()

	var next time.Time
	if ok {
		next = next2AM(time.Now())
	} else {
		next = time.Now().Add(retryInterval)
	}
	m.scheduleOnce(next, func() { m.runCycle(ctx) })
}

func (m *Manager) scheduleOnce(at time.Time, fn func()) {
	m.cron.Schedule(&onceSchedule{at: at}, cron.FuncJob(func() {
		select {
		case <-m.stopCh:
			return
		default:
			fn()
		}
	}))
}

// onceSchedule is a cron.Schedule that fires exactly once, at `at`.
// After the first call to Next it always returns a time far enough in
// the future to never fire again, since robfig/cron has no API to
// deregister a single entry from within its own job.
type onceSchedule struct {
	at   time.Time
	used bool
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if !s.used {
		s.used = true
		return s.at
	}
	return t.Add(100 * 365 * 24 * time.Hour)
}

// next2AM returns the next occurrence of 02:00 local time strictly
// after from. Falls back to from+24h if localtime computation fails.
func next2AM(from time.Time) time.Time {
	loc := from.Location()
	candidate := time.Date(from.Year(), from.Month(), from.Day(), dailyHour, 0, 0, 0, loc)
	if candidate.IsZero() {
		return from.Add(24 * time.Hour)
	}
	if !candidate.After(from) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

// LastSuccess reports whether the most recently completed population
// cycle succeeded.
func (m *Manager) LastSuccess() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess
}

// populate runs one full population cycle: authorize as the
// controller, verify the controller role, page through fetch_cards
// into staging, and commit. Any failure aborts and best-effort
// deauthorizes.
func (m *Manager) populate(ctx context.Context) bool {
	sess, err := m.be.Authorize(ctx, m.controllerUID)
	if err != nil {
		m.log.WithContext(ctx).WithError(err).Warn("cache population: controller authorize failed")
		return false
	}
	if sess.Role != types.RoleController {
		m.log.WithContext(ctx).Warn("cache population: unexpected role for controller UID")
		m.be.Deauthorize()
		return false
	}

	if !m.store.BeginPopulation(ctx) {
		m.log.WithContext(ctx).Warn("cache population: already in progress")
		m.be.Deauthorize()
		return false
	}

	ok := m.fetchAllPages(ctx)
	if !ok {
		m.store.AbortPopulation(ctx)
		m.be.Deauthorize()
		return false
	}

	if !m.store.CommitPopulation(ctx) {
		m.log.WithContext(ctx).Warn("cache population: commit failed")
		m.be.Deauthorize()
		return false
	}

	m.be.Deauthorize()
	return true
}

func (m *Manager) fetchAllPages(ctx context.Context) bool {
	for first := 0; ; first += populationPageSize {
		select {
		case <-m.stopCh:
			return false
		default:
		}

		records, err := m.be.FetchCards(ctx, first, populationPageSize)
		if err != nil {
			m.log.WithContext(ctx).WithError(err).Warn("cache population: fetch_cards failed")
			return false
		}
		for _, rec := range records {
			if !m.store.AddPopulationEntry(ctx, rec.UID, rec.Allowance, int(rec.Role)) {
				return false
			}
		}
		if len(records) < populationPageSize {
			return true
		}
	}
}

// Lookup returns uid's cached allowance/role, used by the controller to
// build a cache-authorized session when the backend is unreachable.
func (m *Manager) Lookup(ctx context.Context, uid string) (store.CacheEntry, bool) {
	return m.store.CacheGet(ctx, uid)
}

// UpdateCacheEntry writes uid's allowance/role into the active cache
// table, used when an online authorization or backend update needs to
// refresh the offline copy.
func (m *Manager) UpdateCacheEntry(ctx context.Context, uid string, allowance float64, roleID int) bool {
	return m.store.CacheUpdate(ctx, uid, allowance, roleID)
}

// DeductAllowance reduces uid's cached allowance by amount, clamped at
// zero. A missing uid is a no-op.
func (m *Manager) DeductAllowance(ctx context.Context, uid string, amount float64) bool {
	entry, ok := m.store.CacheGet(ctx, uid)
	if !ok {
		return false
	}
	remaining := entry.Allowance - amount
	if remaining < 0 {
		remaining = 0
	}
	return m.store.CacheUpdate(ctx, uid, remaining, entry.RoleID)
}
