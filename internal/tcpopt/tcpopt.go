package tcpopt

import (
	"strings"
	"syscall"
	"time"
)

// Options selects which socket options a control hook applies.
type Options struct {
	FastOpen    bool
	UserTimeout time.Duration
}

// ControlFunc matches net.ListenConfig.Control and net.Dialer.Control.
type ControlFunc func(network, address string, c syscall.RawConn) error

func (o Options) empty() bool {
	return !o.FastOpen && o.UserTimeout <= 0
}

func isTCP(network string) bool {
	return strings.HasPrefix(network, "tcp")
}

// ListenControl returns a hook for net.ListenConfig, or nil when o sets
// nothing.
func ListenControl(o Options) ControlFunc {
	if o.empty() {
		return nil
	}
	return func(network, _ string, c syscall.RawConn) error {
		if !isTCP(network) {
			return nil
		}
		return control(c, func(fd uintptr) error { return setListen(fd, o) })
	}
}

// DialControl returns a hook for net.Dialer, or nil when o sets nothing.
func DialControl(o Options) ControlFunc {
	if o.empty() {
		return nil
	}
	return func(network, _ string, c syscall.RawConn) error {
		if !isTCP(network) {
			return nil
		}
		return control(c, func(fd uintptr) error { return setDial(fd, o) })
	}
}

func control(c syscall.RawConn, fn func(fd uintptr) error) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = fn(fd)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
