package proxy

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/die-net/hexrelay/internal/endpoint"
	"github.com/die-net/hexrelay/internal/neterr"
)

// listenBacklog is the kernel accept queue length. The relay serves a single
// session, so nothing beyond the one pending client is queued.
const listenBacklog = 1

// SingleListener is a bound listening endpoint that hands out exactly one
// connection and then stops listening.
type SingleListener struct {
	cfg Config
	ep  endpoint.Endpoint
	ln  net.Listener

	closeOnce sync.Once
	closeErr  error
}

// Listen binds ep with a backlog of one. Failures are returned as classified
// *neterr.Error values.
func Listen(ctx context.Context, cfg Config, ep endpoint.Endpoint) (*SingleListener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ln, err := listenSingle(ctx, ep)
	if err != nil {
		err = neterr.Wrap("listen", ep.Address(), ep.PortString(), err)
		cfg.Metrics.SetupFailed("listen", neterr.KindOf(err).String())
		return nil, err
	}

	cfg.logger().Debug("listening", zap.Stringer("addr", ln.Addr()))

	return &SingleListener{
		cfg: cfg,
		ep:  ep,
		ln:  &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive},
	}, nil
}

// Addr returns the bound address, which differs from the endpoint when it
// asked for port 0.
func (l *SingleListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops listening. It is safe to call more than once.
func (l *SingleListener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}

// Accept blocks until one client connects or ctx is done, and always closes
// the listener before returning. Cancellation is reported as ctx.Err().
func (l *SingleListener) Accept(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.Close()
	})
	c, err := l.ln.Accept()
	stop()
	_ = l.Close()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = neterr.Wrap("accept", l.ep.Address(), l.ep.PortString(), err)
		l.cfg.Metrics.SetupFailed("accept", neterr.KindOf(err).String())
		return nil, err
	}

	l.cfg.logger().Info("accepted connection", zap.Stringer("peer", c.RemoteAddr()))
	return c, nil
}

// Accept binds ep, waits for a single client and returns its connection. The
// listening socket is closed before Accept returns.
func Accept(ctx context.Context, cfg Config, ep endpoint.Endpoint) (net.Conn, error) {
	l, err := Listen(ctx, cfg, ep)
	if err != nil {
		return nil, err
	}
	return l.Accept(ctx)
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	tc, ok := conn.(*net.TCPConn)
	if ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}
