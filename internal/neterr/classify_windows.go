//go:build windows

package neterr

import (
	"errors"

	"golang.org/x/sys/windows"
)

// Classify maps a Winsock error onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return Other
	case errors.Is(err, windows.WSAEADDRINUSE):
		return AddressInUse
	case errors.Is(err, windows.WSAEADDRNOTAVAIL):
		return AddressUnavailable
	case errors.Is(err, windows.WSAECONNREFUSED):
		return ConnectionRefused
	case errors.Is(err, windows.WSAECONNABORTED):
		return ConnectionAborted
	case errors.Is(err, windows.WSAECONNRESET):
		return ConnectionReset
	default:
		return Other
	}
}
