package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.Add(&registry.Server{Name: "m1", Address: "10.0.0.1", Port: 3306, Rank: 0})
	reg.Publish("m1", registry.Running|registry.Primary, 0)
	return reg
}

func TestHandleRegistryListsServersWithStatusLabels(t *testing.T) {
	s := New("", testRegistry(), nil, nil, logrus.NewEntry(logrus.New()))
	req := httptest.NewRequest(http.MethodGet, "/registry", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	var got []registryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Name != "m1" {
		t.Fatalf("got %+v", got)
	}
	found := false
	for _, label := range got[0].Status {
		if label == "PRIMARY" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected PRIMARY in status, got %v", got[0].Status)
	}
}

func TestHandlePoolReturns404ForUnknownServer(t *testing.T) {
	s := New("", testRegistry(), nil, nil, logrus.NewEntry(logrus.New()))
	req := httptest.NewRequest(http.MethodGet, "/pool/missing", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestHandlePoolUsesProvider(t *testing.T) {
	provider := func(name string) PoolStats {
		return PoolStats{Idle: 2, Open: 3, Waiting: 0, Capacity: 10}
	}
	s := New("", testRegistry(), provider, nil, logrus.NewEntry(logrus.New()))
	req := httptest.NewRequest(http.MethodGet, "/pool/m1", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var got PoolStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Idle != 2 || got.Open != 3 || got.Capacity != 10 {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleSessionsUsesProvider(t *testing.T) {
	provider := func() []SessionStats {
		return []SessionStats{{Target: "m1", SessionCount: 4, Reads: 10, Writes: 2}}
	}
	s := New("", testRegistry(), nil, provider, logrus.NewEntry(logrus.New()))
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var got []SessionStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Target != "m1" || got[0].SessionCount != 4 {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	s := New("", testRegistry(), nil, nil, logrus.NewEntry(logrus.New()))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestMetricsExportPerServerState(t *testing.T) {
	reg := testRegistry()
	reg.Get("m1").IncConnectionsOpened()
	provider := func(name string) PoolStats {
		return PoolStats{Idle: 5, Waiting: 1}
	}
	s := New("", reg, provider, nil, logrus.NewEntry(logrus.New()))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`maxproxy_server_up{server="m1"} 1`,
		`maxproxy_server_primary{server="m1"} 1`,
		`maxproxy_server_connections_opened_total{server="m1"} 1`,
		`maxproxy_pool_idle_connections{server="m1"} 5`,
		`maxproxy_pool_waiting_sessions{server="m1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
