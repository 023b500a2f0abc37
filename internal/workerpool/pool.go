// Package workerpool implements the fixed-size reactor pool: N worker
// threads, each with an exclusively-owned session table and connection
// pool, accepting new sessions by round robin and exchanging
// rebalance/administrative messages through per-worker inboxes rather than
// a shared work queue. A session is served by exactly one worker for its
// whole lifetime.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/pool"
	"github.com/mariadb-corporation/maxscale-sub025/internal/session"
)

// MaxWorkers caps the pool size regardless of NumCPU.
const MaxWorkers = 256

// Config tunes the pool. WorkerCount of 0 selects runtime.NumCPU(), capped
// at MaxWorkers.
type Config struct {
	WorkerCount       int
	InboxSize         int
	RebalanceInterval time.Duration
	RebalanceMargin   int // a move happens only when a worker is more than this many sessions ahead
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.WorkerCount > MaxWorkers {
		c.WorkerCount = MaxWorkers
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
	if c.RebalanceInterval <= 0 {
		c.RebalanceInterval = 5 * time.Second
	}
	if c.RebalanceMargin <= 0 {
		c.RebalanceMargin = 2
	}
	return c
}

// PoolFactory builds the per-worker connection pool, letting callers wire
// whichever Dialer talks to backends.
type PoolFactory func(workerID int) *pool.Pool

// Pool is the fixed set of reactor workers and the round-robin acceptor and
// rebalancer that sit above them.
type Pool struct {
	cfg     Config
	log     *logrus.Entry
	workers []*Worker

	next uint64 // round-robin acceptance cursor, atomic

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New builds a Pool with cfg.WorkerCount workers, each given its own pool
// via factory.
func New(cfg Config, factory PoolFactory, log *logrus.Entry) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{cfg: cfg, log: log}
	p.workers = make([]*Worker, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		p.workers[i] = newWorker(i, factory(i), log, cfg.InboxSize)
	}
	return p
}

// Start launches every worker's reactor loop and the background rebalancer.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.run()
		}(w)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.rebalanceLoop(runCtx)
	}()
}

// Stop signals shutdown, lets every worker finish draining its inbox, stops
// each worker, then joins. In-flight sessions are left to their owning
// worker's normal teardown path; Stop does not forcibly close them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range p.workers {
		w.stop()
	}
	p.wg.Wait()
}

// Assign hands s to the next worker in round-robin order and returns the
// chosen worker so the caller can wire the session's backend dial path to
// that worker's own *pool.Pool.
func (p *Pool) Assign(s *session.Session) *Worker {
	w := p.nextWorker()
	w.Adopt(s)
	return w
}

// nextWorker returns the next worker in round-robin order without adopting
// anything, so a caller (e.g. Serve's accepter) can learn which worker's
// *pool.Pool a session should be built against before the session exists.
func (p *Pool) nextWorker() *Worker {
	idx := atomic.AddUint64(&p.next, 1) % uint64(len(p.workers))
	return p.workers[idx]
}

// Workers returns the pool's workers in id order, letting callers (e.g.
// internal/admin's pool-stats provider) aggregate across every worker's own
// *pool.Pool instance.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// WorkerByID returns the worker with the given id, or nil if out of range.
func (p *Pool) WorkerByID(id int) *Worker {
	if id < 0 || id >= len(p.workers) {
		return nil
	}
	return p.workers[id]
}

// Stats polls every worker's load via its inbox and returns all results,
// sorted by worker id.
func (p *Pool) Stats(ctx context.Context) ([]Stats, error) {
	out := make([]Stats, len(p.workers))
	for i, w := range p.workers {
		reply := make(chan Stats, 1)
		select {
		case w.inbox <- Message{Kind: MsgCollectStats, StatsReply: reply}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case s := <-reply:
			out[i] = s
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Broadcast runs fn against every worker's local state, serialized through
// each worker's own inbox so fn never races with that worker's reactor
// loop.
func (p *Pool) Broadcast(ctx context.Context, fn func(*Worker)) error {
	for _, w := range p.workers {
		select {
		case w.inbox <- Message{Kind: MsgBroadcastAdmin, AdminFunc: fn}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pool) rebalanceLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.rebalanceOnce(ctx)
		}
	}
}

// rebalanceOnce moves one IDLE session from the most-loaded worker to the
// least-loaded worker when the gap exceeds cfg.RebalanceMargin. Only IDLE
// sessions are eligible so a move never interrupts a session mid-reply.
func (p *Pool) rebalanceOnce(ctx context.Context) {
	if len(p.workers) < 2 {
		return
	}
	most, least := p.workers[0], p.workers[0]
	for _, w := range p.workers[1:] {
		if w.Load() > most.Load() {
			most = w
		}
		if w.Load() < least.Load() {
			least = w
		}
	}
	if most.ID == least.ID || most.Load()-least.Load() <= p.cfg.RebalanceMargin {
		return
	}
	idle := most.IdleSessions()
	if len(idle) == 0 {
		return
	}
	id := idle[0]
	s, ok := most.Session(id)
	if !ok {
		return
	}
	most.Forget(id)
	select {
	case least.inbox <- Message{Kind: MsgAdoptMoved, Session: s}:
		p.log.WithFields(logrus.Fields{
			"session": id, "from": most.ID, "to": least.ID,
		}).Info("rebalanced idle session")
	case <-ctx.Done():
		most.Adopt(s) // put it back, shutting down
	case <-time.After(time.Second):
		most.Adopt(s) // destination inbox full or stalled, keep it here
	}
}
