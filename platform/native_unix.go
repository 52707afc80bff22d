//go:build linux || darwin || freebsd

package platform

func nativeLoadAvailable() bool { return true }
