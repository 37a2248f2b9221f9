package diagnostics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

type stubCtrl struct {
	state types.State
	depth int
}

func (c stubCtrl) State() types.State { return c.state }
func (c stubCtrl) QueueDepth() int    { return c.depth }

type stubBackend struct{ lastErr string }

func (b stubBackend) LastError() string { return b.lastErr }

func testServer(t *testing.T) *Server {
	t.Helper()
	log := logging.New("diagnostics-test", "error", "text")
	st, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New("127.0.0.1:0", ".", st, stubCtrl{state: types.Waiting, depth: 2}, stubBackend{lastErr: "boom"}, log)
}

func TestHealthHandlerAlwaysOK(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
}

func TestReadyHandlerReportsReadyForOpenStore(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
}

func TestInfoHandlerReportsCountersAndState(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/info", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	var resp infoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Waiting", resp.State)
	require.Equal(t, 2, resp.QueueDepth)
	require.Equal(t, "boom", resp.LastError)
	require.Equal(t, 0, resp.BacklogCount)
}
