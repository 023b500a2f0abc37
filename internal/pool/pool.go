// Package pool implements the per-worker, per-server cache of idle,
// authenticated backend channels: bounded
// capacity, a waitlist with timeout, and idle eviction.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// ErrPoolTimeout is returned by Acquire when a session waits past the
// configured timeout without a channel becoming available.
var ErrPoolTimeout = errors.New("pool: POOL_TIMEOUT")

// ErrPoolExhausted names a per-server cap that has been reached. Acquire
// does not return it: with no AcquireWait configured it waits up to 30
// seconds and then returns ErrPoolTimeout.
var ErrPoolExhausted = errors.New("pool: per-server capacity exhausted")

// Dialer opens a new, authenticated CONNECTING→...→IDLE channel to srv. The
// pool never speaks the wire protocol itself; it delegates connection
// establishment to the session/worker layer that owns the wire codec.
type Dialer func(ctx context.Context, srv *registry.Server) (*Channel, error)

// Channel is a pool's view of a backend connection: enough to decide
// reusability without depending on the wire codec package, avoiding an
// import cycle with internal/session.
type Channel struct {
	Server    *registry.Server
	Raw       interface{} // the underlying net.Conn / wire session state, opaque here
	HungUp    bool
	PooledAt  time.Time
	CloseFunc func() error

	closeOnce sync.Once
}

// Close releases the channel's underlying resources exactly once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.CloseFunc != nil {
			err = c.CloseFunc()
		}
	})
	return err
}

// Config tunes one server's slice of the pool.
type Config struct {
	Capacity     int // 0 disables pooling for this server
	IdleTimeout  time.Duration
	AcquireWait  time.Duration
}

type waiter struct {
	ready chan *Channel
}

// serverPool is the per-worker, per-server LRU of idle channels plus the
// waitlist of sessions blocked on Acquire.
type serverPool struct {
	mu       sync.Mutex
	cfg      Config
	idle     *lru.Cache // key: arbitrary monotonic token, value: *Channel
	openCount int
	waiters  *list.List // of *waiter
	timers   map[*Channel]*time.Timer
	nextKey  uint64
}

func newServerPool(cfg Config) *serverPool {
	cap := cfg.Capacity
	if cap <= 0 {
		cap = 1
	}
	c, _ := lru.New(cap)
	return &serverPool{
		cfg:     cfg,
		idle:    c,
		waiters: list.New(),
		timers:  make(map[*Channel]*time.Timer),
	}
}

// Pool owns one serverPool per configured server, for one worker.
type Pool struct {
	mu      sync.Mutex
	servers map[string]*serverPool
	dial    Dialer
}

// New returns an empty pool that uses dial to open fresh channels.
func New(dial Dialer) *Pool {
	return &Pool{servers: make(map[string]*serverPool), dial: dial}
}

// Configure installs (or replaces) the configuration for one server's slice
// of the pool.
func (p *Pool) Configure(serverName string, cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[serverName] = newServerPool(cfg)
}

func (p *Pool) serverPoolFor(name string) *serverPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.servers[name]
	if !ok {
		sp = newServerPool(Config{Capacity: 0})
		p.servers[name] = sp
	}
	return sp
}

// Acquire follows a three-step policy: reuse an idle
// channel (discarding any found hung-up), else open a fresh one under the
// per-server cap, else wait on the per-server waitlist until a channel frees
// up or the configured timeout elapses.
func (p *Pool) Acquire(ctx context.Context, srv *registry.Server) (*Channel, error) {
	sp := p.serverPoolFor(srv.Name)

	for {
		sp.mu.Lock()
		for sp.idle.Len() > 0 {
			_, v, ok := sp.idle.RemoveOldest()
			if !ok {
				break
			}
			ch := v.(*Channel)
			sp.stopIdleTimer(ch)
			if ch.HungUp {
				ch.Close()
				sp.openCount--
				continue
			}
			sp.mu.Unlock()
			return ch, nil
		}

		if sp.cfg.Capacity == 0 || sp.openCount < sp.cfg.Capacity {
			sp.openCount++
			sp.mu.Unlock()
			ch, err := p.dial(ctx, srv)
			if err != nil {
				sp.mu.Lock()
				sp.openCount--
				sp.mu.Unlock()
				return nil, err
			}
			srv.IncConnectionsOpened()
			srv.IncCurrentlyOpen(1)
			return ch, nil
		}

		w := &waiter{ready: make(chan *Channel, 1)}
		sp.waiters.PushBack(w)
		sp.mu.Unlock()

		timeout := sp.cfg.AcquireWait
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		timer := time.NewTimer(timeout)
		select {
		case ch := <-w.ready:
			timer.Stop()
			if ch == nil {
				continue // woken to retry the idle/open path
			}
			return ch, nil
		case <-timer.C:
			sp.removeWaiter(w)
			return nil, ErrPoolTimeout
		case <-ctx.Done():
			timer.Stop()
			sp.removeWaiter(w)
			return nil, ctx.Err()
		}
	}
}

func (sp *serverPool) removeWaiter(target *waiter) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for e := sp.waiters.Front(); e != nil; e = e.Next() {
		if e.Value.(*waiter) == target {
			sp.waiters.Remove(e)
			return
		}
	}
}

// wakeOldestWaiter hands ch directly to the longest-waiting session, if any,
// and reports whether a waiter took it.
func (sp *serverPool) wakeOldestWaiter(ch *Channel) bool {
	for {
		e := sp.waiters.Front()
		if e == nil {
			return false
		}
		sp.waiters.Remove(e)
		w := e.Value.(*waiter)
		select {
		case w.ready <- ch:
			return true
		default:
			// Waiter already timed out and stopped listening; try the next.
			continue
		}
	}
}

func (sp *serverPool) stopIdleTimer(ch *Channel) {
	if t, ok := sp.timers[ch]; ok {
		t.Stop()
		delete(sp.timers, ch)
	}
}

// Release parks ch as POOLED if it is reusable, starting its idle timer; a
// non-reusable channel, or any channel of a server whose capacity is 0
// (pooling disabled), is closed immediately and its server's open count
// drops.
func (p *Pool) Release(ch *Channel, reusable bool) {
	sp := p.serverPoolFor(ch.Server.Name)
	sp.mu.Lock()
	if reusable && sp.waiters.Len() > 0 && sp.wakeOldestWaiter(ch) {
		sp.mu.Unlock()
		return
	}
	if !reusable || sp.cfg.Capacity <= 0 {
		sp.openCount--
		woken := sp.wakeOldestWaiter(nil)
		sp.mu.Unlock()
		ch.Close()
		ch.Server.IncCurrentlyOpen(-1)
		_ = woken
		return
	}
	ch.PooledAt = time.Now()
	key := sp.nextKey
	sp.nextKey++
	sp.idle.Add(key, ch)
	if sp.cfg.IdleTimeout > 0 {
		sp.timers[ch] = time.AfterFunc(sp.cfg.IdleTimeout, func() {
			p.evictIdle(ch)
		})
	}
	sp.mu.Unlock()
}

func (p *Pool) evictIdle(ch *Channel) {
	sp := p.serverPoolFor(ch.Server.Name)
	sp.mu.Lock()
	for _, k := range sp.idle.Keys() {
		if v, ok := sp.idle.Peek(k); ok && v.(*Channel) == ch {
			sp.idle.Remove(k)
			break
		}
	}
	sp.stopIdleTimer(ch)
	sp.openCount--
	sp.wakeOldestWaiter(nil)
	sp.mu.Unlock()
	ch.Close()
	ch.Server.IncCurrentlyOpen(-1)
}

// Stats is a point-in-time view of one server's pool state, served by
// internal/admin.
type Stats struct {
	Idle      int
	Open      int
	Waiting   int
	Capacity  int
}

// StatsFor returns the current stats for one server.
func (p *Pool) StatsFor(serverName string) Stats {
	sp := p.serverPoolFor(serverName)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return Stats{
		Idle:     sp.idle.Len(),
		Open:     sp.openCount,
		Waiting:  sp.waiters.Len(),
		Capacity: sp.cfg.Capacity,
	}
}
