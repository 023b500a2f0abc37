// Package monitor implements the cluster monitor: a single
// periodic task that probes every configured server, derives status bits,
// publishes snapshots to the registry, and reacts to state transitions with
// hook scripts, a journal file, and an optional event-bus publish.
package monitor

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// MinProbeInterval is the floor on the probe tick.
const MinProbeInterval = 100 * time.Millisecond

// EventBus is the optional transition publisher,
// implemented over github.com/rabbitmq/amqp091-go; nil disables publishing.
type EventBus interface {
	Publish(ctx context.Context, evt Event) error
}

// Config configures one monitor task.
type Config struct {
	ProbeInterval          time.Duration
	ConnectTimeout         time.Duration
	ReadTimeout            time.Duration
	WriteTimeout           time.Duration
	ScriptHook             string
	EventMask              EventMask
	DiskSpaceCheckInterval time.Duration
	// DiskProbe, when set, is run against each server's probe connection at
	// most once per DiskSpaceCheckInterval; a true result flags the server
	// with the DISK_SPACE status bit until a later check clears it.
	DiskProbe              func(ctx context.Context, db *sql.DB) (low bool, err error)
	JournalPath            string
	JournalMaxAge          time.Duration
	DetectStalePrimary     bool
	Credentials            Credentials
}

// Credentials are the monitor's own login used for probe connections,
// distinct from any client-facing credential.
type Credentials struct {
	User     string
	Password string
}

// Monitor is the background probe task.
type Monitor struct {
	reg *registry.Registry
	cfg Config
	log *logrus.Entry
	bus EventBus

	mu         sync.Mutex
	probers    map[string]*serverProbe
	lastStatus map[string]registry.StatusBit
	journal    *journalWriter

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a monitor that has not yet started probing.
func New(reg *registry.Registry, cfg Config, log *logrus.Entry, bus EventBus) *Monitor {
	if cfg.ProbeInterval < MinProbeInterval {
		cfg.ProbeInterval = MinProbeInterval
	}
	return &Monitor{
		reg:        reg,
		cfg:        cfg,
		log:        log,
		bus:        bus,
		probers:    make(map[string]*serverProbe),
		lastStatus: make(map[string]registry.StatusBit),
		journal:    newJournalWriter(cfg.JournalPath, cfg.JournalMaxAge),
	}
}

// Start runs the probe loop on its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop ends the probe loop and blocks until it has exited.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.log.WithError(err).Warn("monitor tick failed")
			}
		}
	}
}

// Tick probes every registered server once, concurrently, and applies the
// results. It is exported so tests and administrative tooling can force an
// off-schedule probe.
func (m *Monitor) Tick(ctx context.Context) error {
	servers := m.reg.List()
	results := make([]probeResult, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		i, srv := i, srv
		g.Go(func() error {
			results[i] = m.probeOne(gctx, srv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	var nodelist []string
	for _, r := range results {
		if r.status.Has(registry.Running) {
			nodelist = append(nodelist, r.server.Address+":"+strconv.Itoa(r.server.Port))
		}
	}

	for _, r := range results {
		prev := m.lastStatus[r.server.Name]
		events := DetectTransitions(prev, r.status)
		if r.status != prev {
			changed = true
		}
		m.lastStatus[r.server.Name] = r.status
		m.reg.Publish(r.server.Name, r.status, r.lagSeconds)

		for _, evt := range events {
			m.handleTransition(ctx, r.server, evt, nodelist)
		}
	}

	if changed {
		m.journal.WriteNow(m.snapshotForJournal())
	} else {
		m.journal.WriteIfStale(m.snapshotForJournal())
	}
	return nil
}

func (m *Monitor) handleTransition(ctx context.Context, srv *registry.Server, evt Event, nodelist []string) {
	m.log.WithField("server", srv.Name).WithField("event", evt).Info("status transition")
	if m.bus != nil {
		if err := m.bus.Publish(ctx, evt); err != nil {
			m.log.WithError(err).Warn("failed to publish transition event")
		}
	}
	if m.cfg.ScriptHook == "" || !m.cfg.EventMask.Has(evt) {
		return
	}
	initiator := srv.Address + ":" + strconv.Itoa(srv.Port)
	if err := RunHook(ctx, m.cfg.ScriptHook, initiator, evt, nodelist); err != nil {
		m.log.WithError(err).WithField("event", evt).Warn("event hook failed")
	}
}

func (m *Monitor) snapshotForJournal() map[string]registry.Snapshot {
	out := make(map[string]registry.Snapshot)
	for _, srv := range m.reg.List() {
		out[srv.Name] = srv.Snapshot()
	}
	return out
}
