// Package router implements the three router policies
// behind one shared capability set, per the "no subclasses, tagged values"
// capability-set design note in DESIGN.md.
package router

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/maxscale-sub025/internal/classify"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
)

// ErrNoTarget is returned when a bound server fell out of its role mask
// mid-session.
var ErrNoTarget = errors.New("router: NO_TARGET")

// ErrNoBackend is returned when no candidate backend qualifies for a query.
var ErrNoBackend = errors.New("router: NO_BACKEND")

// HintKind is the variant tag for a routing hint.
type HintKind int

const (
	HintPrimary HintKind = iota
	HintReplica
	HintNamed
	HintAll
)

// Hint is a routing directive optionally attached to a query.
type Hint struct {
	Kind HintKind
	Name string // populated for HintNamed
}

// Decision is what a session router hands back to the session engine for
// one query: either one target, every open target (fan-out), or a failure.
type Decision struct {
	Targets         []string
	FanOut          bool
	RepliesToIgnore int
	Err             error
}

// Factory builds a router from a service configuration.
type Factory func(reg *registry.Registry, cfg Config) Router

// Config carries the parameters every concrete router needs; fields unused
// by a given router variant are simply ignored.
type Config struct {
	RoleMask          registry.StatusBit
	MaxReplicationLag int // seconds; 0 disables the bound
	WriteServer       string
	DefaultHintKind   HintKind
	DefaultHintName   string
	Log               *logrus.Entry
}

// Router is the service-level object: it knows how to mint a per-session
// router given the session's already-open channel names.
type Router interface {
	NewSession(openEndpoints []string) SessionRouter
	Diagnostics() map[string]interface{}
}

// SessionRouter is the per-session policy state.
type SessionRouter interface {
	RouteQuery(class classify.Result, hints []Hint) Decision
	// OnBackendError is consulted when a backend fails mid-reply; it reports
	// whether the same statement can be transparently rerouted to another
	// backend with equivalent state, and if so, where.
	OnBackendError(failedServer string) (retryServer string, ok bool)
	NotifyOpened(serverName string)
	NotifyClosed(serverName string)
}

func candidatesByRole(reg *registry.Registry, mask registry.StatusBit, maxLag int) []*registry.Server {
	var out []*registry.Server
	for _, s := range reg.List() {
		snap := s.Snapshot()
		if mask != 0 && snap.Status&mask != mask {
			continue
		}
		// A disk-full or maintenance-flagged server never qualifies, whatever
		// the mask asks for.
		if snap.Status.Has(registry.DiskSpace) || snap.Status.Has(registry.Maint) {
			continue
		}
		if maxLag > 0 && snap.Status.Has(registry.Replica) && snap.LagSeconds > maxLag {
			continue
		}
		out = append(out, s)
	}
	return out
}
