//go:build linux || darwin || freebsd

package load

import (
	"context"

	"github.com/ebitengine/purego"

	"github.com/dllpack/dllpack-go/errors"
)

// dlBackend loads shared objects through the platform dynamic linker.
// RTLD_NOW surfaces missing symbols at open time instead of first call;
// RTLD_LOCAL keeps bundle symbols out of the global namespace so two
// bundles can carry conflicting exports.
type dlBackend struct{}

// NewNativeBackend returns the dlopen-based backend for this platform.
func NewNativeBackend() NativeBackend {
	return dlBackend{}
}

func (dlBackend) Open(_ context.Context, path string) (Unit, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "dlopen "+path)
	}
	return &dlUnit{handle: handle, path: path}, nil
}

type dlUnit struct {
	handle uintptr
	path   string
}

func (u *dlUnit) Lookup(name string) (Symbol, error) {
	addr, err := purego.Dlsym(u.handle, name)
	if err != nil {
		return Symbol{}, errors.SymbolNotFound(name, err)
	}
	return Symbol{Addr: addr}, nil
}

func (u *dlUnit) Close(context.Context) error {
	if err := purego.Dlclose(u.handle); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "dlclose "+u.path)
	}
	return nil
}
