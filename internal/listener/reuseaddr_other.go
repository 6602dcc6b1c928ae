//go:build !unix

package listener

import "syscall"

// setReuseAddr is a no-op on platforms without SO_REUSEADDR semantics
// worth fighting (notably Windows, where the default behavior differs).
func setReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
