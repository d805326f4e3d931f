//go:build linux

package mcast

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// PlatformControl sets SO_REUSEADDR and SO_REUSEPORT on the listening socket
// before bind, so a second process (or this one, holding both the v4 and v6
// mDNS sockets) can share port 5353. SO_REUSEPORT tolerates ENOPROTOOPT on
// kernels too old to support it (pre-3.9) and proceeds with REUSEADDR alone.
func PlatformControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			if err != unix.ENOPROTOOPT {
				sockErr = err
			}
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
