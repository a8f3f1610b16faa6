//go:build unix

package errors

import (
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// errnoName returns the symbolic name of errno, e.g. EADDRINUSE.
func errnoName(errno syscall.Errno) string {
	if name := unix.ErrnoName(errno); name != "" {
		return name
	}
	return strconv.Itoa(int(errno))
}
