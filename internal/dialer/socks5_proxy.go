package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/txthinking/socks5"

	"github.com/die-net/hexrelay/internal/neterr"
)

type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	user      string
	pass      string
}

func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, user, pass string) Dialer {
	return &SOCKS5ProxyDialer{cfg: cfg, proxyAddr: proxyAddr, user: user, pass: pass}
}

// DialContext connects to address through the SOCKS5 proxy. The library
// dial has no context support, so a canceled ctx abandons the attempt and
// closes whatever connection it eventually produces.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tcpTimeout := 0
	if f.cfg.DialTimeout > 0 {
		tcpTimeout = int(f.cfg.DialTimeout.Seconds())
		if tcpTimeout <= 0 {
			tcpTimeout = 1
		}
	}

	client, err := socks5.NewClient(f.proxyAddr, f.user, f.pass, tcpTimeout, 0)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy init: %w", err)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := client.Dial(network, address)
		done <- result{conn: c, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, f.wrapErr(address, r.err)
		}
		// The handshake deadline is left set by the library.
		if err := r.conn.SetDeadline(time.Time{}); err != nil {
			_ = r.conn.Close()
			return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
		}
		if tc, ok := proxiedTCPConn(r.conn); ok {
			_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
		}
		return r.conn, nil
	}
}

// proxiedTCPConn returns the TCP connection to the proxy under a conn
// returned by the socks5 client.
func proxiedTCPConn(c net.Conn) (*net.TCPConn, bool) {
	if sc, ok := c.(*socks5.Client); ok {
		c = sc.TCPConn
	}
	tc, ok := c.(*net.TCPConn)
	return tc, ok
}

// wrapErr attributes failures to reach the proxy itself to the proxy
// address, so they aren't reported against the final destination.
func (f *SOCKS5ProxyDialer) wrapErr(address string, err error) error {
	if kind := neterr.Classify(err); kind != neterr.Other {
		host, port, splitErr := net.SplitHostPort(f.proxyAddr)
		if splitErr == nil {
			return neterr.Wrap("connect", host, port, err)
		}
	}
	return fmt.Errorf("socks5 proxy dial %s %s: %w", "tcp", address, err)
}
