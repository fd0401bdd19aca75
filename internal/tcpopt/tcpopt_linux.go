//go:build linux

package tcpopt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// IsSupported reports whether the options are applied on this platform.
const IsSupported = true

// fastOpenQueueLen is the pending TFO request queue for listeners.
const fastOpenQueueLen = 256

func setListen(fd uintptr, o Options) error {
	if o.FastOpen {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, fastOpenQueueLen); err != nil {
			return fmt.Errorf("setsockopt TCP_FASTOPEN: %w", err)
		}
	}
	return setUserTimeout(fd, o)
}

func setDial(fd uintptr, o Options) error {
	if o.FastOpen {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN_CONNECT, 1); err != nil {
			return fmt.Errorf("setsockopt TCP_FASTOPEN_CONNECT: %w", err)
		}
	}
	return setUserTimeout(fd, o)
}

func setUserTimeout(fd uintptr, o Options) error {
	if o.UserTimeout <= 0 {
		return nil
	}
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(o.UserTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("setsockopt TCP_USER_TIMEOUT: %w", err)
	}
	return nil
}
