//go:build !linux

package tcpopt

// IsSupported reports whether the options are applied on this platform.
const IsSupported = false

func setListen(_ uintptr, _ Options) error {
	return nil
}

func setDial(_ uintptr, _ Options) error {
	return nil
}
