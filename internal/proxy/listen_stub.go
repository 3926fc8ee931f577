//go:build !unix

package proxy

import (
	"context"
	"net"

	"github.com/die-net/hexrelay/internal/endpoint"
)

// listenSingle falls back to the standard listener; the backlog is the
// system default here.
func listenSingle(ctx context.Context, ep endpoint.Endpoint) (net.Listener, error) {
	lc := net.ListenConfig{}
	return lc.Listen(ctx, "tcp4", ep.String())
}
