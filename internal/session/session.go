// Package session implements the per-client state machine:
// routing requests to backend channels chosen by a router.SessionRouter,
// reassembling backend replies into logical units, and tearing down cleanly
// on error or hangup.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/classify"
	"github.com/mariadb-corporation/maxscale-sub025/internal/pool"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
	"github.com/mariadb-corporation/maxscale-sub025/internal/router"
	"github.com/mariadb-corporation/maxscale-sub025/internal/wire"
)

// MaxRetries bounds the transparent-reroute attempts on_backend_error may
// make for a single statement.
const MaxRetries = 2

// Config tunes one session's write backpressure thresholds.
type Config struct {
	HighWaterMark int
	LowWaterMark  int
}

type backendHandle struct {
	name  string
	conn  BackendConn
	chan_ *pool.Channel
	reply replyState
	// done is true once this backend's reply to the current request has
	// reached a complete logical boundary.
	done bool
	// readsDisabled mirrors the SetReadEnabled(false) call made against this
	// backend for write backpressure, so a later re-enable only fires once.
	readsDisabled bool
}

// Session is one client's state machine. All mutating calls are expected to
// run on the session's owning worker thread; every exported method also
// holds the session's mutex for its whole duration, so concurrent callers
// are serialized.
type Session struct {
	ID string

	cfg       Config
	log       *logrus.Entry
	client    ClientConn
	reg       *registry.Registry
	pool      *pool.Pool
	classify_ *classify.Classifier
	route_    router.SessionRouter
	dial      func(ctx context.Context, srv *registry.Server) (*pool.Channel, error)

	mu              sync.Mutex
	phase           Phase
	backends        map[string]*backendHandle
	tmpTables       classify.TempTables
	repliesToIgnore int
	outstanding     int // backends still owed a completed reply for the in-flight request
	retryCount      int
	queuedBytes     int
	routingFailures int64

	// pendingChangeUser is set while a COM_CHANGE_USER sub-protocol against
	// the primary backend suspends routing of further client packets.
	pendingChangeUser bool
}

// New creates a session in the ACCEPTED phase. Backend channels are taken
// from p, whose own Dialer opens a fresh channel when no idle one is
// available.
func New(client ClientConn, reg *registry.Registry, p *pool.Pool, clsf *classify.Classifier,
	sr router.SessionRouter, log *logrus.Entry, cfg Config) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		cfg:      cfg,
		log:      log.WithField("session_id", id),
		client:   client,
		reg:      reg,
		pool:     p,
		classify_: clsf,
		route_:   sr,
		phase:    PhaseAccepted,
		backends: make(map[string]*backendHandle),
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RoutingFailures returns how many requests this session failed to route.
func (s *Session) RoutingFailures() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routingFailures
}

// SendGreeting writes the initial handshake packet and advances the session
// to AUTH_WAIT.
func (s *Session) SendGreeting(g wire.Greeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.WriteFramed(0, wire.EncodeGreeting(g)); err != nil {
		return err
	}
	s.phase = PhaseGreetingSent
	s.phase = PhaseAuthWait
	return nil
}

// SendAuthSwitch writes an auth-switch-request and advances to
// AUTH_SWITCH_WAIT.
func (s *Session) SendAuthSwitch(req wire.AuthSwitchRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.WriteFramed(2, wire.EncodeAuthSwitchRequest(req)); err != nil {
		return err
	}
	s.phase = PhaseAuthSwitchSent
	s.phase = PhaseAuthSwitchWait
	return nil
}

// MarkAuthenticated transitions an authenticated session straight through
// AUTH_OK into IDLE, ready to route requests.
func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseAuthOK
	s.phase = PhaseIdle
}

// Route classifies and forwards one complete client request packet.
func (s *Session) Route(seq byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseIdle {
		return fmt.Errorf("session: route called outside IDLE (phase=%s)", s.phase)
	}

	cmd := wire.CommandOf(payload)
	switch cmd {
	case wire.ComQuit:
		return s.routeQuit(seq, payload)
	case wire.ComChangeUser:
		return s.routeChangeUser(seq, payload)
	case wire.ComQuery:
		return s.routeQuery(seq, payload, classify.Op(0))
	default:
		return s.routeOpaque(seq, payload)
	}
}

func (s *Session) routeQuit(seq byte, payload []byte) error {
	for _, b := range s.backends {
		_ = b.conn.WriteFramed(seq, payload)
	}
	s.phase = PhaseClosing
	return nil
}

func (s *Session) routeChangeUser(seq byte, payload []byte) error {
	primary := s.primaryBackendName()
	if primary == "" {
		return s.failClient(seq, 1927, "no primary backend available for COM_CHANGE_USER")
	}
	b, err := s.ensureBackend(primary)
	if err != nil {
		return s.failClient(seq, errCode(err, 1927), err.Error())
	}
	s.pendingChangeUser = true
	s.phase = PhaseAwaitingReply
	s.outstanding = 1
	s.repliesToIgnore = 0
	b.done = false
	b.reply = replyState{capabilities: b.conn.Capabilities()}
	return b.conn.WriteFramed(seq, payload)
}

func (s *Session) primaryBackendName() string {
	for _, srv := range s.reg.List() {
		if srv.Snapshot().Status.Has(registry.Primary) {
			return srv.Name
		}
	}
	for name := range s.backends {
		return name
	}
	return ""
}

func (s *Session) routeQuery(seq byte, payload []byte, _ classify.Op) error {
	sql := payload[1:]
	class := s.tmpTables.Apply(string(sql), s.classify_.Classify(sql))
	hints := router.ParseCommentHints(string(sql))
	return s.dispatch(seq, payload, class, hints)
}

// routeOpaque handles commands other than COM_QUERY/COM_QUIT/COM_CHANGE_USER
// (COM_INIT_DB, COM_PING, COM_STMT_*, ...) by treating them as session-
// affecting writes, the same fan-out-worthy treatment COM_QUERY's SET/USE
// statements get, since the proxy cannot inspect their payload semantics.
func (s *Session) routeOpaque(seq byte, payload []byte) error {
	class := classify.Result{Mask: classify.TypeSessionWrite}
	return s.dispatch(seq, payload, class, nil)
}

func (s *Session) dispatch(seq byte, payload []byte, class classify.Result, hints []router.Hint) error {
	s.phase = PhaseRouting
	decision := s.route_.RouteQuery(class, hints)
	if decision.Err != nil {
		s.phase = PhaseIdle
		return s.failClient(seq, 1046, decision.Err.Error())
	}

	targets := make([]*backendHandle, 0, len(decision.Targets))
	for _, name := range decision.Targets {
		b, err := s.ensureBackend(name)
		if err != nil {
			s.phase = PhaseIdle
			return s.failClient(seq, errCode(err, 1927), err.Error())
		}
		targets = append(targets, b)
	}

	for _, b := range targets {
		b.done = false
		b.reply = replyState{capabilities: b.conn.Capabilities()}
		if err := b.conn.WriteFramed(seq, payload); err != nil {
			s.log.WithError(err).WithField("backend", b.name).Warn("write to backend failed")
			s.closeBackend(b.name)
		}
	}

	s.outstanding = len(targets)
	s.repliesToIgnore = decision.RepliesToIgnore
	s.phase = PhaseAwaitingReply
	return nil
}

func (s *Session) ensureBackend(name string) (*backendHandle, error) {
	if b, ok := s.backends[name]; ok {
		return b, nil
	}
	srv := s.reg.Get(name)
	if srv == nil {
		return nil, fmt.Errorf("session: unknown server %q", name)
	}
	ch, err := s.pool.Acquire(context.Background(), srv)
	if err != nil {
		return nil, err
	}
	conn, ok := ch.Raw.(BackendConn)
	if !ok {
		return nil, fmt.Errorf("session: pool channel for %q has no wire conn attached", name)
	}
	b := &backendHandle{name: name, conn: conn, chan_: ch}
	s.backends[name] = b
	s.route_.NotifyOpened(name)
	return b, nil
}

// OnBackendReply implements the on_backend_reply(backend, packet) contract.
func (s *Session) OnBackendReply(backendName string, seq byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backends[backendName]
	if !ok || b.done {
		return nil
	}

	complete := b.reply.feed(payload)
	forward := true
	if complete {
		if s.repliesToIgnore > 0 {
			s.repliesToIgnore--
			forward = false
		}
		b.done = true
		s.outstanding--
	}

	if forward {
		if err := s.client.WriteFramed(seq, payload); err != nil {
			return err
		}
	}

	if s.outstanding <= 0 {
		if s.pendingChangeUser {
			s.pendingChangeUser = false
		}
		s.phase = PhaseIdle
	}
	return nil
}

// OnBackendError implements the on_backend_error(backend) contract.
func (s *Session) OnBackendError(backendName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseAwaitingReply {
		s.closeBackend(backendName)
		return nil
	}

	if s.retryCount < MaxRetries {
		if retryTo, ok := s.route_.OnBackendError(backendName); ok {
			s.retryCount++
			s.closeBackend(backendName)
			b, err := s.ensureBackend(retryTo)
			if err == nil {
				s.log.WithField("from", backendName).WithField("to", retryTo).Info("transparently rerouted after backend error")
				_ = b
				return nil
			}
		}
	}

	s.closeBackend(backendName)
	_ = s.client.WriteFramed(0, wire.EncodeERR(wire.ERRPacket{
		Code:    2006,
		Message: "MySQL server has gone away",
	}, wire.ProxyCapabilities))
	s.phase = PhaseIdle
	return nil
}

// OnClientError enters CLOSING, releases every backend channel, closes the
// client connection and enters CLOSED. It does not wait for outstanding
// backend replies: a channel whose reply to the current request is complete
// is parked back in the pool, and one still owed a reply is closed.
func (s *Session) OnClientError() error { return s.teardown() }

// OnClientHangup behaves identically to OnClientError.
func (s *Session) OnClientHangup() error { return s.teardown() }

func (s *Session) teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseClosing
	for name := range s.backends {
		s.releaseBackend(name, true)
	}
	s.phase = PhaseClosed
	return s.client.Close()
}

func (s *Session) releaseBackend(name string, reusable bool) {
	b, ok := s.backends[name]
	if !ok {
		return
	}
	delete(s.backends, name)
	reusable = reusable && b.done
	s.pool.Release(b.chan_, reusable)
	s.route_.NotifyClosed(name)
}

func (s *Session) closeBackend(name string) {
	b, ok := s.backends[name]
	if !ok {
		return
	}
	delete(s.backends, name)
	b.chan_.HungUp = true
	s.pool.Release(b.chan_, false)
	s.route_.NotifyClosed(name)
}

func (s *Session) failClient(seq byte, code uint16, msg string) error {
	s.routingFailures++
	err := wire.EncodeERR(wire.ERRPacket{Code: code, Message: msg}, wire.ProxyCapabilities)
	return s.client.WriteFramed(seq, err)
}

// errCode maps an acquire/route error to the MySQL error number surfaced to
// the client: pool exhaustion is 1040, everything else a routing failure.
func errCode(err error, fallback uint16) uint16 {
	if errors.Is(err, pool.ErrPoolTimeout) {
		return 1040
	}
	return fallback
}

// OnClientQueueGrow records bytes queued for the client and disables backend
// reads once the high-water mark is exceeded.
func (s *Session) OnClientQueueGrow(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedBytes += n
	if s.queuedBytes <= s.cfg.HighWaterMark || s.cfg.HighWaterMark <= 0 {
		return
	}
	for _, b := range s.backends {
		if !b.readsDisabled {
			b.conn.SetReadEnabled(false)
			b.readsDisabled = true
		}
	}
}

// OnClientQueueDrain records bytes drained from the client's write queue and
// re-enables backend reads once the queue falls back below the low-water
// mark.
func (s *Session) OnClientQueueDrain(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedBytes -= n
	if s.queuedBytes < 0 {
		s.queuedBytes = 0
	}
	if s.queuedBytes > s.cfg.LowWaterMark {
		return
	}
	for _, b := range s.backends {
		if b.readsDisabled {
			b.conn.SetReadEnabled(true)
			b.readsDisabled = false
		}
	}
}
