//go:build windows

package platform

func nativeLoadAvailable() bool { return true }
