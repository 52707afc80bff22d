//go:build !linux && !darwin && !freebsd && !windows

package load

import (
	"context"
	"runtime"

	"github.com/dllpack/dllpack-go/errors"
)

type noBackend struct{}

// NewNativeBackend returns a backend that rejects every open. Hosts
// without a dynamic linker still load wasm variants.
func NewNativeBackend() NativeBackend {
	return noBackend{}
}

func (noBackend) Open(context.Context, string) (Unit, error) {
	return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
		Detail("native library loading is unavailable on %s", runtime.GOOS).
		Build()
}
