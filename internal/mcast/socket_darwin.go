//go:build darwin

package mcast

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// PlatformControl sets SO_REUSEADDR and SO_REUSEPORT before bind. Both
// options are present on every supported Darwin release, unlike Linux where
// SO_REUSEPORT needs kernel-version tolerance.
func PlatformControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			sockErr = err
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
