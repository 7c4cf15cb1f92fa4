//go:build !unix

package bench

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
