package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// serverProbe holds the reused monitor connection for one server: one
// long-lived connection, reconnected with backoff on failure rather than
// dialed fresh per tick.
type serverProbe struct {
	db                  *sql.DB
	consecutiveFailures int
	nextRetryAt         time.Time
	lastDiskCheck       time.Time
	diskLow             bool
}

type probeResult struct {
	server     *registry.Server
	status     registry.StatusBit
	lagSeconds int
}

func (m *Monitor) probeOne(ctx context.Context, srv *registry.Server) probeResult {
	m.mu.Lock()
	p, ok := m.probers[srv.Name]
	if !ok {
		p = &serverProbe{}
		m.probers[srv.Name] = p
	}
	m.mu.Unlock()

	if time.Now().Before(p.nextRetryAt) {
		return probeResult{server: srv, status: m.staleOrDownStatus(srv, p)}
	}

	db, err := m.connection(p, srv)
	if err != nil {
		return m.onProbeFailure(srv, p)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReadTimeout)
	defer cancel()

	if _, err := queryServerID(ctx, db); err != nil {
		return m.onProbeFailure(srv, p)
	}
	readOnly, rerr := queryReadOnly(ctx, db)
	replicaOK, serr := queryReplicaHealth(ctx, db)
	if rerr != nil && serr != nil {
		return m.onProbeFailure(srv, p)
	}

	p.consecutiveFailures = 0
	status := registry.Running
	if !readOnly {
		status |= registry.Primary
	} else if replicaOK {
		status |= registry.Replica
	}
	if m.checkDiskSpace(ctx, p, db) {
		status |= registry.DiskSpace
	}
	lag, _ := queryReplicationLag(ctx, db)
	return probeResult{server: srv, status: status, lagSeconds: lag}
}

// checkDiskSpace consults the configured disk probe at most once per
// DiskSpaceCheckInterval and reports the sticky low-disk verdict between
// checks.
func (m *Monitor) checkDiskSpace(ctx context.Context, p *serverProbe, db *sql.DB) bool {
	if m.cfg.DiskProbe == nil {
		return false
	}
	interval := m.cfg.DiskSpaceCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	if time.Since(p.lastDiskCheck) >= interval {
		p.lastDiskCheck = time.Now()
		if low, err := m.cfg.DiskProbe(ctx, db); err == nil {
			p.diskLow = low
		}
	}
	return p.diskLow
}

func (m *Monitor) connection(p *serverProbe, srv *registry.Server) (*sql.DB, error) {
	if p.db != nil {
		if err := p.db.Ping(); err == nil {
			return p.db, nil
		}
		p.db.Close()
		p.db = nil
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/?timeout=%s",
		m.cfg.Credentials.User, m.cfg.Credentials.Password, srv.Address, srv.Port, m.cfg.ConnectTimeout)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	p.db = db
	return db, nil
}

// onProbeFailure schedules the next attempt with linear backoff capped at
// 30s, so a dead server is not hammered on every tick.
func (m *Monitor) onProbeFailure(srv *registry.Server, p *serverProbe) probeResult {
	p.consecutiveFailures++
	backoff := time.Duration(p.consecutiveFailures) * m.cfg.ProbeInterval
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	p.nextRetryAt = time.Now().Add(backoff)
	return probeResult{server: srv, status: m.staleOrDownStatus(srv, p)}
}

// staleOrDownStatus implements the stale-primary grace period:
// a server that was PRIMARY and has failed consecutively keeps the PRIMARY
// bit plus STALE for one reporting cycle when the option is enabled, instead
// of immediately losing primary status on a transient outage.
func (m *Monitor) staleOrDownStatus(srv *registry.Server, p *serverProbe) registry.StatusBit {
	prevStatus := srv.Snapshot().Status
	if m.cfg.DetectStalePrimary && prevStatus.Has(registry.Primary) && p.consecutiveFailures <= 1 {
		return registry.Primary | registry.Stale
	}
	return 0
}

func queryServerID(ctx context.Context, db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, "SELECT @@server_id").Scan(&id)
	return id, err
}

func queryReadOnly(ctx context.Context, db *sql.DB) (readOnly bool, err error) {
	row := db.QueryRowContext(ctx, "SHOW GLOBAL VARIABLES LIKE 'read_only'")
	var name, value string
	if err := row.Scan(&name, &value); err != nil {
		return false, err
	}
	return value == "ON" || value == "1", nil
}

// queryReplicaHealth runs SHOW SLAVE STATUS (or SHOW ALL SLAVES STATUS on
// newer variants, tried first) and reports whether at least one row shows a
// healthy IO/SQL thread pair.
func queryReplicaHealth(ctx context.Context, db *sql.DB) (bool, error) {
	rows, err := db.QueryContext(ctx, "SHOW ALL SLAVES STATUS")
	if err != nil {
		rows, err = db.QueryContext(ctx, "SHOW SLAVE STATUS")
		if err != nil {
			return false, err
		}
	}
	defer rows.Close()
	return scanSlaveRows(rows)
}

func scanSlaveRows(rows *sql.Rows) (bool, error) {
	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	healthy := false
	for rows.Next() {
		raw := make([]sql.RawBytes, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return false, err
		}
		values := make(map[string]string, len(cols))
		for i, c := range cols {
			values[c] = string(raw[i])
		}
		io := values["Slave_IO_Running"]
		sqlRunning := values["Slave_SQL_Running"]
		if (io == "Yes" || io == "Connecting" || io == "Preparing") && sqlRunning == "Yes" {
			healthy = true
		}
	}
	return healthy, rows.Err()
}

func queryReplicationLag(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, "SHOW ALL SLAVES STATUS")
	if err != nil {
		rows, err = db.QueryContext(ctx, "SHOW SLAVE STATUS")
		if err != nil {
			return 0, err
		}
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	lag := 0
	for rows.Next() {
		raw := make([]sql.RawBytes, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			continue
		}
		for i, c := range cols {
			if c == "Seconds_Behind_Master" {
				fmt.Sscanf(string(raw[i]), "%d", &lag)
			}
		}
	}
	return lag, nil
}
