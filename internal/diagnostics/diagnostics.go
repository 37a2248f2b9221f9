// Package diagnostics exposes a minimal, read-only HTTP surface for
// observing controller state without physical access to the device:
// GET /health (process alive), GET /ready (store and cache reachable),
// and GET /info (queue/backlog/cache counters, current state, last
// backend error, uptime, and host disk-free percentage). It never
// accepts a request that could drive a transaction. Modeled on the
// reference platform's infrastructure/service health/ready routes,
// bound to localhost only since this is an embedded single-tenant
// device, not a multi-tenant service.
package diagnostics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/maxirmx/fuelflux-sub000/internal/httputil"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

// ControllerView is the read-only slice of controller state the
// diagnostics surface reports. The controller package implements this
// implicitly; it is defined here to keep diagnostics free of a direct
// dependency on the controller package's concrete type.
type ControllerView interface {
	State() types.State
	QueueDepth() int
}

// BackendView reports the backend client's last observed error string.
type BackendView interface {
	LastError() string
}

// Server hosts the diagnostics HTTP surface.
type Server struct {
	addr      string
	storePath string
	store     *store.Store
	ctrl      ControllerView
	be        BackendView
	log       *logging.Logger
	startTime time.Time

	httpServer *http.Server
}

// New builds a diagnostics Server bound to addr (expected to be a
// loopback address, e.g. "127.0.0.1:8741"). storePath is sampled for
// disk-free percentage in the /info response.
func New(addr, storePath string, st *store.Store, ctrl ControllerView, be BackendView, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewFromEnv("diagnostics")
	}
	return &Server{
		addr:      addr,
		storePath: storePath,
		store:     st,
		ctrl:      ctrl,
		be:        be,
		log:       log,
		startTime: time.Now(),
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Start begins serving in a background goroutine. A listen failure is
// logged; the controller keeps running without diagnostics rather than
// failing the whole process, since this surface is purely observational.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("diagnostics server failed")
		}
	}()
}

// Shutdown gracefully stops the diagnostics server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		_ = httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "store unreachable",
		})
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// infoResponse is the /info payload.
type infoResponse struct {
	State         string  `json:"state"`
	QueueDepth    int     `json:"queue_depth"`
	BacklogCount  int     `json:"backlog_count"`
	DeadCount     int     `json:"dead_count"`
	CacheSize     int     `json:"cache_size"`
	LastError     string  `json:"last_backend_error,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	DiskFreePct   float64 `json:"disk_free_percent,omitempty"`
	DiskSampleErr string  `json:"disk_sample_error,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := infoResponse{
		BacklogCount:  s.store.BacklogCount(ctx),
		DeadCount:     s.store.DeadCount(ctx),
		CacheSize:     s.store.CacheSize(ctx),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}
	if s.ctrl != nil {
		resp.State = s.ctrl.State().String()
		resp.QueueDepth = s.ctrl.QueueDepth()
	}
	if s.be != nil {
		resp.LastError = s.be.LastError()
	}

	if usage, err := disk.UsageWithContext(ctx, s.storePath); err != nil {
		resp.DiskSampleErr = err.Error()
	} else {
		resp.DiskFreePct = 100 - usage.UsedPercent
	}

	_ = httputil.WriteJSON(w, http.StatusOK, resp)
}
