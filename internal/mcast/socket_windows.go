//go:build windows

package mcast

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// PlatformControl sets SO_REUSEADDR before bind. Windows has no SO_REUSEPORT
// equivalent; SO_REUSEADDR alone is what lets a second mDNS-aware process
// (or this one, rebinding after a restart) share port 5353.
func PlatformControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
