package admin

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// collector exports per-server state and counters at scrape time rather
// than on a timer, so /metrics always reflects the latest published
// snapshot without a second update path.
type collector struct {
	reg       *registry.Registry
	poolStats PoolStatsProvider

	up          *prometheus.Desc
	primary     *prometheus.Desc
	lag         *prometheus.Desc
	connsOpened *prometheus.Desc
	connsOpen   *prometheus.Desc
	authFails   *prometheus.Desc
	poolIdle    *prometheus.Desc
	poolWaiting *prometheus.Desc
}

func newCollector(reg *registry.Registry, poolStats PoolStatsProvider) *collector {
	labels := []string{"server"}
	return &collector{
		reg:       reg,
		poolStats: poolStats,
		up: prometheus.NewDesc("maxproxy_server_up",
			"Whether the monitor currently sees the server as RUNNING.", labels, nil),
		primary: prometheus.NewDesc("maxproxy_server_primary",
			"Whether the monitor currently sees the server as PRIMARY.", labels, nil),
		lag: prometheus.NewDesc("maxproxy_server_replication_lag_seconds",
			"Replication lag reported by the last monitor probe.", labels, nil),
		connsOpened: prometheus.NewDesc("maxproxy_server_connections_opened_total",
			"Cumulative backend connections opened to the server.", labels, nil),
		connsOpen: prometheus.NewDesc("maxproxy_server_connections_open",
			"Backend connections currently open to the server.", labels, nil),
		authFails: prometheus.NewDesc("maxproxy_server_auth_failures_total",
			"Cumulative authentication failures against the server.", labels, nil),
		poolIdle: prometheus.NewDesc("maxproxy_pool_idle_connections",
			"Idle pooled connections to the server across all workers.", labels, nil),
		poolWaiting: prometheus.NewDesc("maxproxy_pool_waiting_sessions",
			"Sessions waiting on the pool for the server across all workers.", labels, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.primary
	ch <- c.lag
	ch <- c.connsOpened
	ch <- c.connsOpen
	ch <- c.authFails
	ch <- c.poolIdle
	ch <- c.poolWaiting
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, srv := range c.reg.List() {
		snap := srv.Snapshot()
		counters := srv.CountersSnapshot()

		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue,
			boolValue(snap.Status.Has(registry.Running)), srv.Name)
		ch <- prometheus.MustNewConstMetric(c.primary, prometheus.GaugeValue,
			boolValue(snap.Status.Has(registry.Primary)), srv.Name)
		ch <- prometheus.MustNewConstMetric(c.lag, prometheus.GaugeValue,
			float64(snap.LagSeconds), srv.Name)
		ch <- prometheus.MustNewConstMetric(c.connsOpened, prometheus.CounterValue,
			float64(counters.ConnectionsOpened), srv.Name)
		ch <- prometheus.MustNewConstMetric(c.connsOpen, prometheus.GaugeValue,
			float64(counters.CurrentlyOpen), srv.Name)
		ch <- prometheus.MustNewConstMetric(c.authFails, prometheus.CounterValue,
			float64(counters.AuthFailures), srv.Name)

		if c.poolStats != nil {
			st := c.poolStats(srv.Name)
			ch <- prometheus.MustNewConstMetric(c.poolIdle, prometheus.GaugeValue,
				float64(st.Idle), srv.Name)
			ch <- prometheus.MustNewConstMetric(c.poolWaiting, prometheus.GaugeValue,
				float64(st.Waiting), srv.Name)
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
