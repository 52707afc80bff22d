package load

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/dllpack/dllpack-go/errors"
)

// WazeroBackend runs wasm variants on a shared wazero runtime. Compiled
// modules are cached on disk so repeated loads of the same payload skip
// recompilation.
type WazeroBackend struct {
	runtime wazero.Runtime

	wasiMu   sync.Mutex
	wasiDone bool
}

// NewWASMBackend creates a backend whose compilation cache lives in
// cacheDir. Pass an empty cacheDir to compile in memory only.
func NewWASMBackend(ctx context.Context, cacheDir string) (*WazeroBackend, error) {
	cfg := wazero.NewRuntimeConfig()
	if cacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "open compilation cache")
		}
		cfg = cfg.WithCompilationCache(cache)
	}
	return &WazeroBackend{runtime: wazero.NewRuntimeWithConfig(ctx, cfg)}, nil
}

// initWASI instantiates the WASI preview1 host module once per runtime.
// Safe for concurrent callers.
func (b *WazeroBackend) initWASI(ctx context.Context) error {
	b.wasiMu.Lock()
	defer b.wasiMu.Unlock()

	if b.wasiDone {
		return nil
	}
	if b.runtime.Module(wasi_snapshot_preview1.ModuleName) != nil {
		b.wasiDone = true
		return nil
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, b.runtime); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "instantiate WASI")
	}
	b.wasiDone = true
	return nil
}

// Instantiate compiles and instantiates a core wasm module. Exported
// functions become the unit's symbols.
func (b *WazeroBackend) Instantiate(ctx context.Context, name string, binary []byte) (Unit, error) {
	if err := b.initWASI(ctx); err != nil {
		return nil, err
	}

	compiled, err := b.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compile "+name)
	}

	// Anonymous instance name so the same module can be live twice.
	// Libraries built for wasip1 export _initialize rather than
	// _start; commands are not loadable units.
	mod, err := b.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize"))
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "instantiate "+name)
	}

	return &wasmUnit{name: name, compiled: compiled, module: mod}, nil
}

// Close shuts the runtime down, invalidating every unit created from it.
func (b *WazeroBackend) Close(ctx context.Context) error {
	return b.runtime.Close(ctx)
}

type wasmUnit struct {
	name     string
	compiled wazero.CompiledModule
	module   api.Module
}

func (u *wasmUnit) Lookup(name string) (Symbol, error) {
	fn := u.module.ExportedFunction(name)
	if fn == nil {
		return Symbol{}, errors.SymbolNotFound(name, nil)
	}
	return Symbol{Func: fn}, nil
}

func (u *wasmUnit) Close(ctx context.Context) error {
	err := u.module.Close(ctx)
	if cerr := u.compiled.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "close "+u.name)
	}
	return nil
}
