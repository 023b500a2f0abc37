package workerpool

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mariadb-corporation/maxscale-sub025/internal/pool"
	"github.com/mariadb-corporation/maxscale-sub025/internal/session"
)

// Accepter builds a *session.Session (or returns an error to reject the raw
// connection, e.g. a handshake failure) and performs whatever initial
// greeting exchange the session state machine requires before the
// connection is handed to its owning worker. It receives the *pool.Pool of
// the worker the session is about to be adopted by, so the session is built
// against the same pool instance that will serve it for its whole lifetime
// rather than one borrowed from a different worker.
type Accepter func(ctx context.Context, conn net.Conn, p *pool.Pool) (*session.Session, error)

// Serve runs a single shared acceptor on ln and hands every accepted
// connection to the next worker in round-robin order (nextWorker, then
// Worker.Adopt once the handshake has built the session). Use
// this when workers do not bind their own SO_REUSEPORT listeners.
func (p *Pool) Serve(ctx context.Context, ln net.Listener, accept Accepter, log *logrus.Entry) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go p.onAccept(ctx, conn, accept, log)
	}
}

// ServeReusePort has every worker bind its own SO_REUSEPORT listener on
// address and accept directly into its own session table, skipping the
// round-robin hand-off entirely. The kernel's connection distribution
// across listeners on the same port takes the place of Pool.Assign.
func (p *Pool) ServeReusePort(ctx context.Context, network, address string, accept Accepter, log *logrus.Entry) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		ln, err := ListenReusePort(ctx, network, address)
		if err != nil {
			return err
		}
		go func() {
			<-gctx.Done()
			ln.Close()
		}()
		g.Go(func() error {
			for {
				conn, err := ln.Accept()
				if err != nil {
					select {
					case <-gctx.Done():
						return nil
					default:
						return err
					}
				}
				go func() {
					sess, err := accept(gctx, conn, w.Pool)
					if err != nil {
						log.WithError(err).Warn("rejected connection during handshake")
						conn.Close()
						return
					}
					w.Adopt(sess)
				}()
			}
		})
	}
	return g.Wait()
}

func (p *Pool) onAccept(ctx context.Context, conn net.Conn, accept Accepter, log *logrus.Entry) {
	w := p.nextWorker()
	sess, err := accept(ctx, conn, w.Pool)
	if err != nil {
		log.WithError(err).Warn("rejected connection during handshake")
		conn.Close()
		return
	}
	w.Adopt(sess)
}
