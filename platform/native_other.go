//go:build !linux && !darwin && !freebsd && !windows

package platform

func nativeLoadAvailable() bool { return false }
