package neterr

import (
	"errors"
	"fmt"
	"net"
)

// Kind is a classified socket error.
type Kind int

const (
	Other Kind = iota
	AddressInUse
	AddressUnavailable
	InvalidPort
	ConnectionRefused
	ConnectionAborted
	ConnectionReset
)

func (k Kind) String() string {
	switch k {
	case AddressInUse:
		return "address_in_use"
	case AddressUnavailable:
		return "address_unavailable"
	case InvalidPort:
		return "invalid_port"
	case ConnectionRefused:
		return "connection_refused"
	case ConnectionAborted:
		return "connection_aborted"
	case ConnectionReset:
		return "connection_reset"
	default:
		return "other"
	}
}

// Error is a classified failure of a listen, accept or connect operation on
// Host:Port.
type Error struct {
	Kind Kind
	Op   string
	Host string
	Port string
	Err  error
}

func (e *Error) Error() string {
	addr := net.JoinHostPort(e.Host, e.Port)

	switch e.Kind {
	case AddressInUse:
		return fmt.Sprintf("Port %s is already in use", e.Port)
	case AddressUnavailable:
		return fmt.Sprintf("Cannot assign requested address %s", e.Host)
	case InvalidPort:
		return fmt.Sprintf("Port %s is not between 0-65535", e.Port)
	case ConnectionRefused:
		return fmt.Sprintf("Connection refused by %s", addr)
	case ConnectionAborted:
		return fmt.Sprintf("Connection to %s aborted", addr)
	case ConnectionReset:
		return fmt.Sprintf("Connection reset by %s", addr)
	}

	if e.Err == nil {
		return fmt.Sprintf("%s %s failed", e.Op, addr)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err and returns it as an *Error for op on host:port.
// A nil err yields nil.
func Wrap(op, host, port string, err error) error {
	if err == nil {
		return nil
	}

	var ne *Error
	if errors.As(err, &ne) {
		return err
	}

	return &Error{Kind: Classify(err), Op: op, Host: host, Port: port, Err: err}
}

// KindOf returns the Kind carried by err, or Other if err is not classified.
func KindOf(err error) Kind {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return Other
}
