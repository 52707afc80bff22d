//go:build windows

package load

import (
	"context"

	"golang.org/x/sys/windows"

	"github.com/dllpack/dllpack-go/errors"
)

// winBackend loads DLLs through LoadLibraryEx. The altered search path
// flag makes a library's own directory the first place its static
// imports are resolved from, which is where sibling bundle payloads
// would sit.
type winBackend struct{}

// NewNativeBackend returns the LoadLibrary-based backend for Windows.
func NewNativeBackend() NativeBackend {
	return winBackend{}
}

func (winBackend) Open(_ context.Context, path string) (Unit, error) {
	handle, err := windows.LoadLibraryEx(path, 0, windows.LOAD_WITH_ALTERED_SEARCH_PATH)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "LoadLibraryEx "+path)
	}
	return &winUnit{handle: handle, path: path}, nil
}

type winUnit struct {
	handle windows.Handle
	path   string
}

func (u *winUnit) Lookup(name string) (Symbol, error) {
	addr, err := windows.GetProcAddress(u.handle, name)
	if err != nil {
		return Symbol{}, errors.SymbolNotFound(name, err)
	}
	return Symbol{Addr: addr}, nil
}

func (u *winUnit) Close(context.Context) error {
	if err := windows.FreeLibrary(u.handle); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "FreeLibrary "+u.path)
	}
	return nil
}
