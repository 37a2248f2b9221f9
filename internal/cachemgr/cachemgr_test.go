package cachemgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxirmx/fuelflux-sub000/internal/backend"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

func testLogger() *logging.Logger {
	return logging.New("cachemgr-test", "error", "text")
}

// stubBackend is a minimal, fully-controllable Backend double for
// exercising the population algorithm without real HTTP traffic.
type stubBackend struct {
	authorizeErr error
	role         types.Role
	authorized   bool

	pages      [][]backend.CardRecord
	fetchIndex int
	fetchErr   error

	deauthorizeCalls int
}

func (s *stubBackend) Authorize(ctx context.Context, uid string) (types.UserSession, error) {
	if s.authorizeErr != nil {
		return types.UserSession{}, s.authorizeErr
	}
	s.authorized = true
	return types.UserSession{UID: uid, Role: s.role}, nil
}

func (s *stubBackend) Deauthorize() {
	s.deauthorizeCalls++
	s.authorized = false
}

func (s *stubBackend) Refuel(ctx context.Context, tank types.TankNumber, volume types.Volume) error {
	return nil
}
func (s *stubBackend) Intake(ctx context.Context, tank types.TankNumber, volume types.Volume, dir types.IntakeDirection) error {
	return nil
}
func (s *stubBackend) RefuelPayload(ctx context.Context, raw string) error { return nil }
func (s *stubBackend) IntakePayload(ctx context.Context, raw string) error { return nil }

func (s *stubBackend) FetchCards(ctx context.Context, first, number int) ([]backend.CardRecord, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	page := first / number
	if page >= len(s.pages) {
		return nil, nil
	}
	return s.pages[page], nil
}

func (s *stubBackend) LastError() string  { return "" }
func (s *stubBackend) IsAuthorized() bool { return s.authorized }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPopulateSuccessCommitsCacheEntries(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sb := &stubBackend{
		role: types.RoleController,
		pages: [][]backend.CardRecord{
			{{UID: "card-1", Role: types.RoleCustomer, Allowance: 50}},
		},
	}

	m := New(st, sb, "controller-1", testLogger())
	ok := m.populate(ctx)
	require.True(t, ok)
	require.Equal(t, 1, sb.deauthorizeCalls)

	entry, found := st.CacheGet(ctx, "card-1")
	require.True(t, found)
	require.Equal(t, 50.0, entry.Allowance)
}

func TestPopulateAbortsOnWrongRole(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sb := &stubBackend{role: types.RoleCustomer}

	m := New(st, sb, "controller-1", testLogger())
	ok := m.populate(ctx)
	require.False(t, ok)
	require.Equal(t, 1, sb.deauthorizeCalls)
}

func TestPopulateAbortsOnAuthorizeFailure(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sb := &stubBackend{authorizeErr: backend.ErrNetwork}

	m := New(st, sb, "controller-1", testLogger())
	ok := m.populate(ctx)
	require.False(t, ok)
	require.Equal(t, 0, sb.deauthorizeCalls)
}

func TestPopulateAbortsOnFetchError(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sb := &stubBackend{role: types.RoleController, fetchErr: backend.ErrApplication}

	m := New(st, sb, "controller-1", testLogger())
	ok := m.populate(ctx)
	require.False(t, ok)
}

func TestPopulatePagesUntilShortPage(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	fullPage := make([]backend.CardRecord, 100)
	for i := range fullPage {
		fullPage[i] = backend.CardRecord{UID: "u", Role: types.RoleCustomer, Allowance: 1}
	}
	sb := &stubBackend{
		role: types.RoleController,
		pages: [][]backend.CardRecord{
			fullPage,
			{{UID: "last", Role: types.RoleCustomer, Allowance: 9}},
		},
	}

	m := New(st, sb, "controller-1", testLogger())
	ok := m.populate(ctx)
	require.True(t, ok)
	entry, found := st.CacheGet(ctx, "last")
	require.True(t, found)
	require.Equal(t, 9.0, entry.Allowance)
}

func TestDeductAllowanceClampsAtZero(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.True(t, st.CacheUpdate(ctx, "card-1", 10, 1))

	m := New(st, &stubBackend{}, "controller-1", testLogger())
	require.True(t, m.DeductAllowance(ctx, "card-1", 15))

	entry, ok := st.CacheGet(ctx, "card-1")
	require.True(t, ok)
	require.Equal(t, 0.0, entry.Allowance)
}

func TestDeductAllowanceNoOpForMissingUID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	m := New(st, &stubBackend{}, "controller-1", testLogger())
	require.False(t, m.DeductAllowance(ctx, "nobody", 5))
}

func TestNext2AMRollsToNextDayWhenPast(t *testing.T) {
	from := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	next := next2AM(from)
	require.Equal(t, 2026, next.Year())
	require.Equal(t, time.January, next.Month())
	require.Equal(t, 2, next.Day())
	require.Equal(t, 2, next.Hour())
}

func TestNext2AMSameDayWhenBefore(t *testing.T) {
	from := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	next := next2AM(from)
	require.Equal(t, 1, next.Day())
	require.Equal(t, 2, next.Hour())
}
