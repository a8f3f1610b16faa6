//go:build !unix

package errors

import (
	"strconv"
	"syscall"
)

func errnoName(errno syscall.Errno) string {
	return strconv.Itoa(int(errno))
}
