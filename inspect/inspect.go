package inspect

import (
	"context"
	"runtime"

	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/platform"
)

// DependencyRef is one declared dependency of a binary as the inspector
// found it: the declared name plus, when it could be mapped to a file on
// this host, the resolved absolute path.
type DependencyRef struct {
	// Name is the dependency identifier as declared in the binary
	// (soname, dylib install name, DLL name, or wasm import namespace).
	Name string

	// Path is the absolute path the name resolved to, empty when
	// unresolved.
	Path string

	// Resolved reports whether Path is usable. Unresolved refs are a
	// legal terminal state: the dependency is assumed present on the
	// target host (system libraries, wasm host imports).
	Resolved bool
}

// Inspector lists the declared dependencies of one compiled binary.
//
// Implementations read the binary's own headers and never execute it.
// The returned order is the declaration order in the binary.
type Inspector interface {
	// ListDependencies inspects the binary at path.
	ListDependencies(ctx context.Context, path string) ([]DependencyRef, error)

	// Target returns the platform family this inspector understands.
	Target() string
}

// For returns the inspector able to list dependencies of binaries built
// for the given target. WebAssembly inspection is pure byte parsing and
// works on every host. Native formats additionally need the host's own
// library search semantics to resolve names to files, so they are only
// offered when the host OS matches the target OS; everything else is an
// InspectionUnsupported capability gap, not a silent no-op.
func For(target platform.Triple) (Inspector, error) {
	if target.IsWASM() {
		return &WASMInspector{}, nil
	}

	if target.OS != hostOS() {
		return nil, errors.InspectionUnsupported(target.String())
	}

	switch target.OS {
	case "linux", "freebsd":
		return NewELFInspector(), nil
	case "darwin":
		return NewMachOInspector(), nil
	case "windows":
		return NewPEInspector(), nil
	default:
		return nil, errors.InspectionUnsupported(target.String())
	}
}

// ForHost returns the native inspector for the running host.
func ForHost() (Inspector, error) {
	return For(platform.Host())
}

func hostOS() string { return runtime.GOOS }
