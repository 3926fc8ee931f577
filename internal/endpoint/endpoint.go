// Package endpoint holds the immutable (address, port) pair that identifies one
// side of a relayed TCP connection.
package endpoint

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/die-net/hexrelay/internal/neterr"
)

// Endpoint is an IPv4 address and TCP port. The zero value is not valid;
// construct with New or Parse.
type Endpoint struct {
	addr netip.Addr
	port uint16
}

// New validates address as a dotted-quad IPv4 literal and port as 0-65535.
func New(address string, port int) (Endpoint, error) {
	if port < 0 || port > 65535 {
		return Endpoint{}, &neterr.Error{Kind: neterr.InvalidPort, Op: "endpoint", Host: address, Port: strconv.Itoa(port)}
	}

	addr, err := netip.ParseAddr(address)
	if err != nil || !addr.Is4() {
		return Endpoint{}, fmt.Errorf("address %s is not formatted correctly", address)
	}

	return Endpoint{addr: addr, port: uint16(port)}, nil
}

// Parse is New for a port given as text, as it arrives from the command line.
func Parse(address, port string) (Endpoint, error) {
	n, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return Endpoint{}, &neterr.Error{Kind: neterr.InvalidPort, Op: "endpoint", Host: address, Port: port}
	}
	return New(address, n)
}

func (e Endpoint) Address() string { return e.addr.String() }

func (e Endpoint) Port() int { return int(e.port) }

// PortString is the port formatted for messages and neterr wrapping.
func (e Endpoint) PortString() string { return strconv.Itoa(int(e.port)) }

func (e Endpoint) AddrPort() netip.AddrPort { return netip.AddrPortFrom(e.addr, e.port) }

// String returns host:port, suitable for net.Dial.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address(), e.PortString())
}

// IsValid reports whether e was constructed by New or Parse.
func (e Endpoint) IsValid() bool { return e.addr.IsValid() }
