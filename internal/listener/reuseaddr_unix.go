//go:build unix

package listener

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr lets a restart rebind a port still draining TIME_WAIT
// connections from the previous process.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
