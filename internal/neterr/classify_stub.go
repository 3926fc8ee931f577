//go:build !unix && !windows

package neterr

// Classify maps an OS-level socket error onto a Kind. There is no errno
// mapping on this platform.
func Classify(_ error) Kind {
	return Other
}
