// Package runtime is the proxy's composition root: one object
// that bundles the registry, the per-worker connection pools, the router
// factories, the cluster monitor, the worker pool, and the admin surface,
// built once from resolved configuration and handed to every component
// instead of reaching for process-wide globals.
package runtime

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mariadb-corporation/maxscale-sub025/internal/admin"
	"github.com/mariadb-corporation/maxscale-sub025/internal/classify"
	"github.com/mariadb-corporation/maxscale-sub025/internal/config"
	"github.com/mariadb-corporation/maxscale-sub025/internal/monitor"
	"github.com/mariadb-corporation/maxscale-sub025/internal/pool"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
	"github.com/mariadb-corporation/maxscale-sub025/internal/router"
	"github.com/mariadb-corporation/maxscale-sub025/internal/secret"
	"github.com/mariadb-corporation/maxscale-sub025/internal/session"
	"github.com/mariadb-corporation/maxscale-sub025/internal/transport"
	"github.com/mariadb-corporation/maxscale-sub025/internal/workerpool"
)

// ProxyServerVersion is the greeting string clients see, mirroring a
// MariaDB server version so version-sniffing drivers behave normally.
const ProxyServerVersion = "10.11.0-maxproxy"

const (
	sessionHighWaterMark = 1 << 20 // bytes queued to a client before backend reads pause
	sessionLowWaterMark  = 1 << 18
	classifierCacheSize  = 4096
)

var routerFactories = map[string]router.Factory{
	"connrouter": router.NewConnRouter,
	"rwsplit":    router.NewRWSplitRouter,
	"hint":       router.NewHintRouter,
}

// serviceRuntime pairs one configured service's name with the router built
// for it. It holds no per-service backend filter: the router chooses among
// every server in the shared registry, and sessions start with no open
// endpoints.
type serviceRuntime struct {
	name   string
	router router.Router
}

// Runtime is the fully wired proxy: every component a listener's accept
// path or the admin surface needs, constructed once at startup.
type Runtime struct {
	cfg *config.Config
	log *logrus.Entry

	reg        *registry.Registry
	classifier *classify.Classifier
	services   map[string]*serviceRuntime

	keyring *secret.Keyring
	checker transport.AuthChecker

	workers *workerpool.Pool
	mon     *monitor.Monitor
	bus     eventBusCloser
	admin   *admin.Server

	nextConnID uint32
}

type eventBusCloser interface {
	Close() error
}

// New builds every component described by cfg but starts nothing; call
// Start to begin serving.
func New(cfg *config.Config, log *logrus.Entry) (*Runtime, error) {
	reg := registry.New()
	for _, sc := range cfg.Servers {
		reg.Add(&registry.Server{
			Name:     sc.Name,
			Address:  sc.Address,
			Port:     sc.Port,
			Protocol: sc.Protocol,
			Rank:     sc.Rank,
		})
	}

	keyring, err := secret.Load(cfg.Secret.Path)
	if err != nil {
		return nil, fmt.Errorf("runtime: loading secret keyring: %w", err)
	}

	services := make(map[string]*serviceRuntime, len(cfg.Services))
	for _, sc := range cfg.Services {
		factory, ok := routerFactories[sc.Router]
		if !ok {
			factory = router.NewConnRouter
		}
		rcfg := sc.ToRouterConfig()
		rcfg.Log = log.WithField("service", sc.Name)
		services[sc.Name] = &serviceRuntime{
			name:   sc.Name,
			router: factory(reg, rcfg),
		}
	}

	monCfg := cfg.Monitor.ToMonitorConfig()
	monPassword, err := keyring.DecryptPassword(cfg.Monitor.Password)
	if err != nil {
		return nil, fmt.Errorf("runtime: decrypting monitor password: %w", err)
	}
	monCfg.Credentials.Password = monPassword

	var bus monitor.EventBus
	var busCloser eventBusCloser
	if cfg.Monitor.AMQPURL != "" {
		b, err := monitor.NewAMQPEventBus(cfg.Monitor.AMQPURL, cfg.Monitor.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("runtime: connecting monitor event bus: %w", err)
		}
		bus, busCloser = b, b
	}

	mon := monitor.New(reg, monCfg, log, bus)

	// There is no separate client-facing account table; the single
	// monitor credential pair doubles as the identity listeners
	// authenticate clients against and the identity the proxy dials backends
	// with, see DESIGN.md's Open Question decision on backend credentials.
	creds := transport.BackendCredentials{User: cfg.Monitor.User, Password: monPassword}
	var checker transport.AuthChecker
	if cfg.Monitor.User != "" {
		checker = transport.StaticAuthChecker(cfg.Monitor.User, monPassword)
	}

	poolCfg := cfg.Pool.ToPoolConfig()
	servers := cfg.Servers
	factory := workerpool.PoolFactory(func(workerID int) *pool.Pool {
		p := pool.New(transport.NewDialer(creds))
		for _, sc := range servers {
			p.Configure(sc.Name, poolCfg)
		}
		return p
	})
	workers := workerpool.New(cfg.WorkerPool.ToWorkerPoolConfig(), factory, log)

	rt := &Runtime{
		cfg:        cfg,
		log:        log,
		reg:        reg,
		classifier: classify.NewClassifier(classifierCacheSize),
		services:   services,
		keyring:    keyring,
		checker:    checker,
		workers:    workers,
		mon:        mon,
		bus:        busCloser,
	}

	if cfg.Admin.Enabled {
		rt.admin = admin.New(cfg.Admin.Address, reg, rt.poolStats, rt.sessionStats, log)
	}

	return rt, nil
}

// Start brings every component up and serves every configured listener
// until ctx is cancelled, returning the first error any of them reports
// (listener accept loops excepted; ctx cancellation alone is not an error).
func (rt *Runtime) Start(ctx context.Context) error {
	if path := rt.cfg.Secret.Path; path != "" {
		if closer, err := rt.keyring.Watch(path, rt.log); err == nil {
			go func() {
				<-ctx.Done()
				closer.Close()
			}()
		} else {
			rt.log.WithError(err).Warn("secret file watch not started")
		}
	}

	rt.mon.Start(ctx)
	rt.workers.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if rt.admin != nil {
		g.Go(func() error {
			err := rt.admin.ListenAndServe()
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			return rt.admin.Shutdown()
		})
	}

	for _, lst := range rt.cfg.Listeners {
		lst := lst
		svc, ok := rt.services[lst.Service]
		if !ok {
			return fmt.Errorf("runtime: listener %q references unknown service %q", lst.Name, lst.Service)
		}
		if lst.ReusePort {
			g.Go(func() error {
				return rt.workers.ServeReusePort(gctx, lst.Network, lst.Address, rt.accepterFor(lst, svc), rt.log)
			})
			continue
		}
		ln, err := net.Listen(lst.Network, lst.Address)
		if err != nil {
			return fmt.Errorf("runtime: listening on %s %s: %w", lst.Network, lst.Address, err)
		}
		g.Go(func() error {
			return rt.workers.Serve(gctx, ln, rt.accepterFor(lst, svc), rt.log)
		})
	}

	err := g.Wait()
	rt.workers.Stop()
	rt.mon.Stop()
	if rt.bus != nil {
		rt.bus.Close()
	}
	return err
}

// accepterFor builds the workerpool.Accepter for one listener/service pair:
// run the server-side handshake, then construct a session bound to the
// worker's own pool and the service's router.
func (rt *Runtime) accepterFor(lst config.ListenerConfig, svc *serviceRuntime) workerpool.Accepter {
	return func(ctx context.Context, conn net.Conn, p *pool.Pool) (*session.Session, error) {
		checker := rt.checker
		if lst.SkipAuth {
			checker = nil
		}
		identity := transport.ServerIdentity{
			Version:      ProxyServerVersion,
			ConnectionID: atomic.AddUint32(&rt.nextConnID, 1),
		}
		pc, _, err := transport.AcceptClientHandshake(conn, identity, checker)
		if err != nil {
			return nil, err
		}

		sessLog := rt.log.WithField("service", svc.name).WithField("listener", lst.Name)
		sr := svc.router.NewSession(nil)
		sess := session.New(pc, rt.reg, p, rt.classifier, sr, sessLog, session.Config{
			HighWaterMark: sessionHighWaterMark,
			LowWaterMark:  sessionLowWaterMark,
		})
		sess.MarkAuthenticated()
		return sess, nil
	}
}

// poolStats aggregates every worker's own pool statistics for serverName,
// since each worker owns an exclusive *pool.Pool slice rather than sharing
// one.
func (rt *Runtime) poolStats(serverName string) admin.PoolStats {
	var out admin.PoolStats
	for _, w := range rt.workers.Workers() {
		st := w.Pool.StatsFor(serverName)
		out.Idle += st.Idle
		out.Open += st.Open
		out.Waiting += st.Waiting
		out.Capacity += st.Capacity
	}
	return out
}

// sessionStats reports one SessionStats row per worker, keyed by a
// synthetic "worker-N" target. internal/session does not yet track
// cumulative per-backend read/write counters or active-time ratios, so
// those fields report zero; only the session-count column reflects real
// state. See DESIGN.md for the scope note on richer per-target stats.
func (rt *Runtime) sessionStats() []admin.SessionStats {
	stats, err := rt.workers.Stats(context.Background())
	if err != nil {
		return nil
	}
	out := make([]admin.SessionStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, admin.SessionStats{
			Target:       fmt.Sprintf("worker-%d", s.WorkerID),
			SessionCount: s.Sessions,
		})
	}
	return out
}

// Stop requests every component to shut down; Start's errgroup.Wait
// performs the actual teardown once each listener's context is cancelled,
// this just exists for callers that built a Runtime without a long-lived
// Start call (e.g. tests).
func (rt *Runtime) Stop() {
	rt.workers.Stop()
	rt.mon.Stop()
	if rt.admin != nil {
		rt.admin.Shutdown()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
}

// Registry exposes the runtime's registry for callers that need to seed or
// inspect it directly (tests, the monitor's own bootstrap probe).
func (rt *Runtime) Registry() *registry.Registry { return rt.reg }
