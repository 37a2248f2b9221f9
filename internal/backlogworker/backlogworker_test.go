package backlogworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxirmx/fuelflux-sub000/internal/backend"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

func testLogger() *logging.Logger {
	return logging.New("backlogworker-test", "error", "text")
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// scriptedBackend replays canned responses keyed by uid, recording the
// sequence of calls made against it for assertions.
type scriptedBackend struct {
	authorizeErr map[string]error
	replayErr    map[string]error
	calls        []string
}

func (s *scriptedBackend) Authorize(ctx context.Context, uid string) (types.UserSession, error) {
	s.calls = append(s.calls, "authorize:"+uid)
	if err, ok := s.authorizeErr[uid]; ok {
		return types.UserSession{}, err
	}
	return types.UserSession{UID: uid}, nil
}

func (s *scriptedBackend) Deauthorize() { s.calls = append(s.calls, "deauthorize") }

func (s *scriptedBackend) Refuel(ctx context.Context, tank types.TankNumber, volume types.Volume) error {
	return nil
}
func (s *scriptedBackend) Intake(ctx context.Context, tank types.TankNumber, volume types.Volume, dir types.IntakeDirection) error {
	return nil
}

func (s *scriptedBackend) RefuelPayload(ctx context.Context, raw string) error {
	return s.replay("refuel_payload", raw)
}
func (s *scriptedBackend) IntakePayload(ctx context.Context, raw string) error {
	return s.replay("intake_payload", raw)
}

func (s *scriptedBackend) replay(label, raw string) error {
	s.calls = append(s.calls, label+":"+raw)
	if err, ok := s.replayErr[raw]; ok {
		return err
	}
	return nil
}

func (s *scriptedBackend) FetchCards(ctx context.Context, first, number int) ([]backend.CardRecord, error) {
	return nil, nil
}
func (s *scriptedBackend) LastError() string  { return "" }
func (s *scriptedBackend) IsAuthorized() bool { return false }

func TestDrainPassSuccessRemovesFromBacklog(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.True(t, st.AddBacklog(ctx, "A", types.MethodRefuel, `{"v":1}`))

	sb := &scriptedBackend{}
	w := New(st, sb, 0, testLogger())
	w.DrainPass(ctx)

	require.Equal(t, 0, st.BacklogCount(ctx))
	require.Contains(t, sb.calls, "authorize:A")
	require.Contains(t, sb.calls, "refuel_payload:{\"v\":1}")
	require.Contains(t, sb.calls, "deauthorize")
}

func TestDrainPassStopsOnAuthorizeNetworkError(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.True(t, st.AddBacklog(ctx, "A", types.MethodRefuel, `{"v":1}`))
	require.True(t, st.AddBacklog(ctx, "B", types.MethodRefuel, `{"v":2}`))

	sb := &scriptedBackend{authorizeErr: map[string]error{"A": backend.ErrNetwork}}
	w := New(st, sb, 0, testLogger())
	w.DrainPass(ctx)

	require.Equal(t, 2, st.BacklogCount(ctx), "both items remain, pass stopped at the first network error")
}

func TestDrainPassMovesApplicationErrorToDead(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.True(t, st.AddBacklog(ctx, "A", types.MethodRefuel, `{"v":1}`))

	sb := &scriptedBackend{authorizeErr: map[string]error{"A": backend.ErrApplication}}
	w := New(st, sb, 0, testLogger())
	w.DrainPass(ctx)

	require.Equal(t, 0, st.BacklogCount(ctx))
	require.Equal(t, 1, st.DeadCount(ctx))
}

func TestDrainPassReplayApplicationErrorMovesToDead(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.True(t, st.AddBacklog(ctx, "A", types.MethodIntake, `{"v":1}`))

	sb := &scriptedBackend{replayErr: map[string]error{`{"v":1}`: backend.ErrApplication}}
	w := New(st, sb, 0, testLogger())
	w.DrainPass(ctx)

	require.Equal(t, 0, st.BacklogCount(ctx))
	require.Equal(t, 1, st.DeadCount(ctx))
}

func TestDrainPassReplayNetworkErrorLeavesItemInPlace(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.True(t, st.AddBacklog(ctx, "A", types.MethodRefuel, `{"v":1}`))

	sb := &scriptedBackend{replayErr: map[string]error{`{"v":1}`: backend.ErrNetwork}}
	w := New(st, sb, 0, testLogger())
	w.DrainPass(ctx)

	require.Equal(t, 1, st.BacklogCount(ctx))
}

func TestDrainPassEmptyBacklogIsNoOp(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sb := &scriptedBackend{}
	w := New(st, sb, 0, testLogger())
	w.DrainPass(ctx)
	require.Empty(t, sb.calls)
}
