//go:build unix

package proxy

import (
	"context"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/die-net/hexrelay/internal/endpoint"
)

// listenSingle creates the listening socket by hand, since net.ListenConfig
// always uses the system maximum backlog.
func listenSingle(_ context.Context, ep endpoint.Endpoint) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (net.Listener, error) {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError(op, err)
	}

	// Matches what net.Listen does, so a previous session's TIME_WAIT
	// sockets don't block a restart on the same port.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}

	ap := ep.AddrPort()
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return fail("listen", err)
	}

	// FileListener dups fd, so the original is closed either way.
	f := os.NewFile(uintptr(fd), "tcp:"+ep.String())
	defer f.Close()

	return net.FileListener(f)
}
