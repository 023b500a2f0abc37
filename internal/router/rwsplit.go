package router

import (
	"sync"

	"github.com/mariadb-corporation/maxscale-sub025/internal/classify"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// rwSplitRouter splits reads from writes: writes and in-transaction reads go
// to the single write server, standalone reads round-robin across replicas,
// and session-altering statements fan out to every open endpoint so that no
// backend's session state drifts from the others.
type rwSplitRouter struct {
	reg *registry.Registry
	cfg Config
}

// NewRWSplitRouter returns the round-robin read/write split router.
func NewRWSplitRouter(reg *registry.Registry, cfg Config) Router {
	return &rwSplitRouter{reg: reg, cfg: cfg}
}

func (r *rwSplitRouter) NewSession(openEndpoints []string) SessionRouter {
	endpoints := make([]string, len(openEndpoints))
	copy(endpoints, openEndpoints)
	return &rwSplitSession{router: r, open: endpoints}
}

func (r *rwSplitRouter) Diagnostics() map[string]interface{} {
	return map[string]interface{}{
		"router":       "readwritesplit",
		"write_server": r.cfg.WriteServer,
	}
}

func (r *rwSplitRouter) replicas() []string {
	var names []string
	for _, s := range candidatesByRole(r.reg, registry.Replica, r.cfg.MaxReplicationLag) {
		names = append(names, s.Name)
	}
	return names
}

type rwSplitSession struct {
	router *rwSplitRouter
	mu     sync.Mutex

	open     []string
	inTrx    bool
	rrCursor int
}

func (s *rwSplitSession) RouteQuery(class classify.Result, hints []Hint) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if class.Mask.Has(classify.TypeBeginTrx) {
		s.inTrx = true
	}

	if class.Mask.Has(classify.TypeSessionWrite) || class.Mask.Has(classify.TypeGSysVarWrite) {
		// SET autocommit=1 both fans out and implicitly commits.
		if class.Mask.Has(classify.TypeCommit) || class.Mask.Has(classify.TypeRollback) {
			s.inTrx = false
		}
		return s.fanOut()
	}

	if s.inTrx || class.Mask.Has(classify.TypeWrite) || needsWriteServer(class.Mask) {
		if class.Mask.Has(classify.TypeCommit) || class.Mask.Has(classify.TypeRollback) {
			s.inTrx = false
		}
		if s.router.cfg.WriteServer == "" {
			return Decision{Err: ErrNoBackend}
		}
		return Decision{Targets: []string{s.router.cfg.WriteServer}}
	}

	replicas := s.router.replicas()
	if len(replicas) == 0 {
		if s.router.cfg.WriteServer == "" {
			return Decision{Err: ErrNoBackend}
		}
		return Decision{Targets: []string{s.router.cfg.WriteServer}}
	}
	target := replicas[s.rrCursor%len(replicas)]
	s.rrCursor++
	return Decision{Targets: []string{target}}
}

// needsWriteServer reports the read-shaped masks that must still reach the
// write backend: last-insert-id style reads bound to the primary, and any
// touch of a connection-local temporary table, which only exists there.
func needsWriteServer(mask classify.Type) bool {
	return mask.Has(classify.TypeMasterRead) ||
		mask.Has(classify.TypeCreateTmpTable) ||
		mask.Has(classify.TypeReadTmpTable)
}

func (s *rwSplitSession) fanOut() Decision {
	if len(s.open) == 0 {
		return Decision{Err: ErrNoBackend}
	}
	targets := make([]string, len(s.open))
	copy(targets, s.open)
	return Decision{Targets: targets, FanOut: true, RepliesToIgnore: len(targets) - 1}
}

func (s *rwSplitSession) OnBackendError(failedServer string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTrx {
		// A transaction cannot be transparently migrated mid-flight.
		return "", false
	}
	replicas := s.router.replicas()
	for _, r := range replicas {
		if r != failedServer {
			return r, true
		}
	}
	return "", false
}

func (s *rwSplitSession) NotifyOpened(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.open {
		if n == serverName {
			return
		}
	}
	s.open = append(s.open, serverName)
}

func (s *rwSplitSession) NotifyClosed(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.open {
		if n == serverName {
			s.open = append(s.open[:i], s.open[i+1:]...)
			return
		}
	}
}
