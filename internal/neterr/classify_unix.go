//go:build unix

package neterr

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Classify maps an OS-level socket error onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return Other
	case errors.Is(err, unix.EADDRINUSE):
		return AddressInUse
	case errors.Is(err, unix.EADDRNOTAVAIL):
		return AddressUnavailable
	case errors.Is(err, unix.ECONNREFUSED):
		return ConnectionRefused
	case errors.Is(err, unix.ECONNABORTED):
		return ConnectionAborted
	case errors.Is(err, unix.ECONNRESET):
		return ConnectionReset
	default:
		return Other
	}
}
