//go:build unix

package bench

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr lets a restarted receiver rebind its port straight away.
func reuseAddr(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
