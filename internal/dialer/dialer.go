package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/die-net/hexrelay/internal/endpoint"
	"github.com/die-net/hexrelay/internal/neterr"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses upstream and constructs the appropriate outbound Dialer.
//
// Supported schemes:
//   - direct://
//   - socks5://[user:pass@]host:port
//
// A socks5 URL without a port uses 1080.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid URL: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid url: missing scheme")
	case "direct":
		return NewDirectDialer(cfg), nil
	case "socks5":
		host := u.Hostname()
		if host == "" {
			return nil, errors.New("invalid url: missing host")
		}
		port := u.Port()
		if port == "" {
			port = "1080"
		}

		var user, pass string
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}

		return NewSOCKS5ProxyDialer(cfg, net.JoinHostPort(host, port), user, pass), nil
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

// Connect makes a single attempt to open a TCP connection to ep through d.
// Cancellation is reported as ctx.Err(); anything else is a *neterr.Error.
func Connect(ctx context.Context, cfg Config, d Dialer, ep endpoint.Endpoint) (net.Conn, error) {
	conn, err := d.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = neterr.Wrap("connect", ep.Address(), ep.PortString(), err)
		cfg.Metrics.SetupFailed("connect", neterr.KindOf(err).String())
		return nil, err
	}

	cfg.logger().Info("connected to remote", zap.String("remote", ep.String()), zap.Stringer("local", conn.LocalAddr()))
	return conn, nil
}
