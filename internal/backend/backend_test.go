package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

func testLogger() *logging.Logger {
	return logging.New("backend-test", "error", "text")
}

func TestAuthorizeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pump/authorize", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"Token":     "tok-1",
			"RoleId":    1,
			"Allowance": 100.0,
			"Price":     45.5,
			"fuelTanks": []map[string]interface{}{{"idTank": 1, "nameTank": "A"}},
		})
	}))
	defer server.Close()

	c := New(server.URL, "controller-1", testLogger())
	sess, err := c.Authorize(context.Background(), "CUST-1")
	require.NoError(t, err)
	require.Equal(t, types.RoleCustomer, sess.Role)
	require.Equal(t, 100.0, sess.Allowance)
	require.Equal(t, 45.5, sess.Price)
	require.Len(t, sess.AvailableTanks, 1)
	require.True(t, c.IsAuthorized())
}

func TestAuthorizeRejectsWhenAlreadyAuthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"Token": "t", "RoleId": 1})
	}))
	defer server.Close()

	c := New(server.URL, "controller-1", testLogger())
	_, err := c.Authorize(context.Background(), "CUST-1")
	require.NoError(t, err)

	_, err = c.Authorize(context.Background(), "CUST-2")
	require.ErrorIs(t, err, ErrAlreadyAuthed)
}

func TestAuthorizeApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"CodeError": 1, "TextError": "unknown card"})
	}))
	defer server.Close()

	c := New(server.URL, "controller-1", testLogger())
	_, err := c.Authorize(context.Background(), "BAD-CARD")
	require.Error(t, err)
	require.True(t, IsApplicationError(err))
	require.False(t, IsNetworkError(err))
	require.Equal(t, "unknown card", c.LastError())
}

func TestAuthorizeNetworkError(t *testing.T) {
	c := New("http://127.0.0.1:1", "controller-1", testLogger())
	_, err := c.Authorize(context.Background(), "CUST-1")
	require.Error(t, err)
	require.True(t, IsNetworkError(err))
}

func authorizedClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c := New(server.URL, "controller-1", testLogger())
	_, err := c.Authorize(context.Background(), "CUST-1")
	require.NoError(t, err)
	return c
}

func TestRefuelSuccessDeductsAllowance(t *testing.T) {
	var refuelCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pump/authorize":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"Token": "tok", "RoleId": 1, "Allowance": 100.0,
				"fuelTanks": []map[string]interface{}{{"idTank": 1, "nameTank": "A"}},
			})
		case "/api/pump/refuel":
			refuelCalled = true
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"CodeError": 0})
		}
	}))
	defer server.Close()

	c := authorizedClient(t, server)
	err := c.Refuel(context.Background(), 1, 30)
	require.NoError(t, err)
	require.True(t, refuelCalled)
	require.Equal(t, 70.0, c.sess.allowance)
}

func TestRefuelRejectsWrongRole(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"Token": "tok", "RoleId": 2})
	}))
	defer server.Close()

	c := authorizedClient(t, server)
	err := c.Refuel(context.Background(), 1, 10)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestRefuelRejectsOverAllowance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"Token": "tok", "RoleId": 1, "Allowance": 10.0,
			"fuelTanks": []map[string]interface{}{{"idTank": 1}},
		})
	}))
	defer server.Close()

	c := authorizedClient(t, server)
	err := c.Refuel(context.Background(), 1, 50)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestRefuelNetworkErrorGoesToBacklog(t *testing.T) {
	s, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	defer s.Close()

	var shouldFail bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pump/authorize":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"Token": "tok", "RoleId": 1, "Allowance": 100.0,
				"fuelTanks": []map[string]interface{}{{"idTank": 1}},
			})
		case "/api/pump/refuel":
			if shouldFail {
				panic(http.ErrAbortHandler)
			}
		}
	}))
	defer server.Close()

	c := New(server.URL, "controller-1", testLogger(), WithStore(s))
	_, err = c.Authorize(context.Background(), "OFFLINE-1")
	require.NoError(t, err)

	shouldFail = true
	err = c.Refuel(context.Background(), 1, 10)
	require.Error(t, err)
	require.True(t, IsNetworkError(err))
	require.Equal(t, 1, s.BacklogCount(context.Background()))
}

func TestRefuelApplicationErrorGoesToDead(t *testing.T) {
	s, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	defer s.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pump/authorize":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"Token": "tok", "RoleId": 1, "Allowance": 100.0,
				"fuelTanks": []map[string]interface{}{{"idTank": 1}},
			})
		case "/api/pump/refuel":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"CodeError": 5, "TextError": "tank closed"})
		}
	}))
	defer server.Close()

	c := New(server.URL, "controller-1", testLogger(), WithStore(s))
	_, err = c.Authorize(context.Background(), "CUST-1")
	require.NoError(t, err)

	err = c.Refuel(context.Background(), 1, 10)
	require.Error(t, err)
	require.True(t, IsApplicationError(err))
	require.Equal(t, 1, s.DeadCount(context.Background()))
}

func TestFetchCardsParsesArraySkippingNonStringUID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pump/authorize":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"Token": "tok", "RoleId": 3})
		default:
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{
				{"Uid": "A", "RoleId": 1, "Allowance": 10.0},
				{"Uid": 123, "RoleId": 1, "Allowance": 20.0},
				{"Uid": "B", "RoleId": 2, "Allowance": 0.0},
			})
		}
	}))
	defer server.Close()

	c := authorizedClient(t, server)
	records, err := c.FetchCards(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "A", records[0].UID)
	require.Equal(t, "B", records[1].UID)
}

func TestFetchCardsRejectsNonArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pump/authorize":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"Token": "tok", "RoleId": 3})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"CodeError": 0})
		}
	}))
	defer server.Close()

	c := authorizedClient(t, server)
	_, err := c.FetchCards(context.Background(), 0, 100)
	require.Error(t, err)
	require.True(t, IsApplicationError(err))
}

func TestDeauthorizeClearsStateImmediately(t *testing.T) {
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pump/authorize":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"Token": "tok", "RoleId": 1})
		case "/api/pump/deauthorize":
			close(done)
		}
	}))
	defer server.Close()

	c := authorizedClient(t, server)
	c.Deauthorize()
	require.False(t, c.IsAuthorized())
	<-done
}

func TestRefuelPayloadReplaysUnderCurrentToken(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pump/authorize":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"Token": "tok", "RoleId": 1})
		case "/api/pump/refuel":
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"CodeError": 0})
		}
	}))
	defer server.Close()

	c := authorizedClient(t, server)
	err := c.RefuelPayload(context.Background(), `{"TankNumber":1,"FuelVolume":10,"TimeAt":123}`)
	require.NoError(t, err)
	require.Equal(t, float64(1), gotBody["TankNumber"])
}
