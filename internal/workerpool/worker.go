package workerpool

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/pool"
	"github.com/mariadb-corporation/maxscale-sub025/internal/session"
)

// Worker is one reactor thread: it owns its sessions and
// its connection pool slice exclusively, and only ever touches another
// worker's state through a message placed on that worker's inbox.
type Worker struct {
	ID int

	Pool *pool.Pool // this worker's own connection pool, never shared

	log *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*session.Session

	inbox chan Message

	stopCh chan struct{}
	doneCh chan struct{}
}

// newWorker returns a worker with an empty session table and its own pool.
func newWorker(id int, p *pool.Pool, log *logrus.Entry, inboxSize int) *Worker {
	return &Worker{
		ID:       id,
		Pool:     p,
		log:      log.WithField("worker", id),
		sessions: make(map[string]*session.Session),
		inbox:    make(chan Message, inboxSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Adopt registers a session as owned by this worker. Only the worker's own
// goroutine calls the session's mutating methods afterward.
func (w *Worker) Adopt(s *session.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions[s.ID] = s
}

// Forget removes a session from this worker's table, e.g. on close or after
// a completed rebalance move.
func (w *Worker) Forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, id)
}

// Session looks up a session this worker owns.
func (w *Worker) Session(id string) (*session.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[id]
	return s, ok
}

// Load is the worker's current session count, used as the rebalance load
// proxy in the absence of a per-thread CPU-busy-fraction sampler.
func (w *Worker) Load() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// IdleSessions returns the ids of every owned session currently in IDLE,
// the only phase a rebalance move may target.
func (w *Worker) IdleSessions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ids []string
	for id, s := range w.sessions {
		if s.Phase() == session.PhaseIdle {
			ids = append(ids, id)
		}
	}
	return ids
}

// run handles each inbox message as it arrives until stopped. Inbox
// here is many-producers/one-consumer from this worker's point of view: any
// other worker or the pool's master routine may enqueue into it.
func (w *Worker) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			w.drainRemaining()
			return
		case msg := <-w.inbox:
			w.handle(msg)
		}
	}
}

func (w *Worker) drainRemaining() {
	for {
		select {
		case msg := <-w.inbox:
			w.handle(msg)
		default:
			return
		}
	}
}

func (w *Worker) handle(msg Message) {
	switch msg.Kind {
	case MsgAdoptMoved:
		w.Adopt(msg.Session)
		w.log.WithField("session", msg.Session.ID).Info("adopted session moved from another worker")
	case MsgCollectStats:
		if msg.StatsReply != nil {
			msg.StatsReply <- Stats{WorkerID: w.ID, Sessions: w.Load()}
		}
	case MsgBroadcastAdmin:
		if msg.AdminFunc != nil {
			msg.AdminFunc(w)
		}
	}
}

func (w *Worker) stop() {
	close(w.stopCh)
	<-w.doneCh
}
