// Package admin implements the read-only HTTP introspection surface:
// registry contents, per-server pool statistics, and per-target session
// statistics served as JSON endpoints.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// PoolStats is one server's connection pool statistics, as reported by
// internal/pool.Pool.StatsFor without importing that package directly here
// (avoids admin depending on which worker's pool instance answers).
type PoolStats struct {
	Idle     int `json:"idle"`
	Open     int `json:"open"`
	Waiting  int `json:"waiting"`
	Capacity int `json:"capacity"`
}

// PoolStatsProvider answers a pool-stats lookup for one server name.
type PoolStatsProvider func(serverName string) PoolStats

// SessionStats is one target's aggregate session activity: read/write
// counts, mean session duration, mean active fraction.
type SessionStats struct {
	Target          string  `json:"target"`
	SessionCount    int     `json:"session_count"`
	Reads           int64   `json:"reads"`
	Writes          int64   `json:"writes"`
	MeanDurationS   float64 `json:"mean_duration_s"`
	MeanActiveRatio float64 `json:"mean_active_ratio"`
}

// SessionStatsProvider answers a snapshot of every target's session stats.
type SessionStatsProvider func() []SessionStats

// Server serves the admin HTTP surface.
type Server struct {
	reg          *registry.Registry
	poolStats    PoolStatsProvider
	sessionStats SessionStatsProvider
	log          *logrus.Entry

	httpServer *http.Server
}

// New builds an admin Server bound to addr. poolStats and sessionStats may
// be nil, in which case their endpoints report an empty result rather than
// failing, so the admin surface can come up before the worker pool does.
func New(addr string, reg *registry.Registry, poolStats PoolStatsProvider, sessionStats SessionStatsProvider, log *logrus.Entry) *Server {
	s := &Server{reg: reg, poolStats: poolStats, sessionStats: sessionStats, log: log}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(newCollector(reg, poolStats))

	r := mux.NewRouter()
	r.HandleFunc("/registry", s.handleRegistry).Methods(http.MethodGet)
	r.HandleFunc("/pool/{server}", s.handlePool).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe blocks serving the admin surface until the listener is
// closed via Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the admin HTTP server immediately, closing its listener and
// every open connection without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.httpServer.Close()
}

type registryEntry struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Port    int      `json:"port"`
	Rank    int      `json:"rank"`
	Status  []string `json:"status"`
	LagS    int      `json:"lag_s"`
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	servers := s.reg.List()
	out := make([]registryEntry, 0, len(servers))
	for _, srv := range servers {
		snap := srv.Snapshot()
		out = append(out, registryEntry{
			Name:    srv.Name,
			Address: srv.Address,
			Port:    srv.Port,
			Rank:    srv.Rank,
			Status:  statusLabels(snap.Status),
			LagS:    snap.LagSeconds,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["server"]
	if s.reg.Get(name) == nil {
		http.NotFound(w, r)
		return
	}
	if s.poolStats == nil {
		writeJSON(w, PoolStats{})
		return
	}
	writeJSON(w, s.poolStats(name))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessionStats == nil {
		writeJSON(w, []SessionStats{})
		return
	}
	writeJSON(w, s.sessionStats())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

var statusNames = []struct {
	bit  registry.StatusBit
	name string
}{
	{registry.Running, "RUNNING"},
	{registry.Primary, "PRIMARY"},
	{registry.Replica, "REPLICA"},
	{registry.Synced, "SYNCED"},
	{registry.Maint, "MAINT"},
	{registry.Draining, "DRAINING"},
	{registry.Stale, "STALE"},
	{registry.DiskSpace, "DISK_SPACE"},
}

func statusLabels(status registry.StatusBit) []string {
	var out []string
	for _, s := range statusNames {
		if status.Has(s.bit) {
			out = append(out, s.name)
		}
	}
	return out
}
