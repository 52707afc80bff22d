package inspect

import (
	"context"
	"os"

	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/inspect/internal/wasmbin"
)

// WASMInspector lists the import namespaces of a core WebAssembly
// module. Wasm imports name host capabilities ("wasi_snapshot_preview1",
// "env"), not files, so every dependency is reported unresolved: the
// loader's runtime is expected to satisfy them.
type WASMInspector struct{}

func (i *WASMInspector) Target() string { return "wasm" }

func (i *WASMInspector) ListDependencies(ctx context.Context, path string) ([]DependencyRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInspect, errors.KindIO, err, "read wasm "+path)
	}

	if !wasmbin.IsModule(b) {
		return nil, errors.InvalidData(errors.PhaseInspect, "not a core wasm module: "+path)
	}

	seen := make(map[string]bool)
	var refs []DependencyRef
	for _, imp := range wasmbin.ParseImports(b) {
		if seen[imp.Module] {
			continue
		}
		seen[imp.Module] = true
		refs = append(refs, DependencyRef{Name: imp.Module})
	}
	return refs, nil
}
