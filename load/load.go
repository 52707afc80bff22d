package load

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/platform"
)

// Symbol is a resolved export from a loaded unit. Exactly one of the
// fields is set: Addr for native libraries, Func for wasm modules.
type Symbol struct {
	Addr uintptr
	Func api.Function
}

// Unit is one loaded library or wasm instance. Units are created by a
// backend and closed by the Handle that owns them.
type Unit interface {
	// Lookup resolves an exported symbol by name.
	Lookup(name string) (Symbol, error)

	// Close unloads the unit. The unit is unusable afterwards.
	Close(ctx context.Context) error
}

// NativeBackend opens platform dynamic libraries from files on disk.
type NativeBackend interface {
	Open(ctx context.Context, path string) (Unit, error)
}

// WASMBackend instantiates wasm modules from their raw bytes.
type WASMBackend interface {
	Instantiate(ctx context.Context, name string, binary []byte) (Unit, error)
}

// Fetcher supplies verified blob bytes for manifest nodes.
// *fetch.Client satisfies it.
type Fetcher interface {
	FetchBlob(ctx context.Context, manifestURL string, hash cas.Hash) ([]byte, error)
}

// Loader materializes a resolved bundle into live units.
type Loader struct {
	Fetcher Fetcher
	Native  NativeBackend
	WASM    WASMBackend

	// WorkDir receives native payloads before they are opened. The
	// loader is the only writer; files are keyed by content hash so
	// concurrent loads of the same bundle do not conflict.
	WorkDir string
}

// loadedUnit pairs a live unit with enough identity to log and unwind.
type loadedUnit struct {
	id   string
	name string
	unit Unit
}

// Handle owns the units of one loaded bundle root. Symbols looked up
// through it stay valid until Release.
type Handle struct {
	mu     sync.Mutex
	units  []loadedUnit // in load order; released in reverse
	roots  []Unit       // the units symbol lookup searches
	extra  []func(context.Context) error
	closed bool
}

// Load resolves the manifest for the descriptor, fetches every node of
// the selected closure in dependency order, and loads each one. On any
// failure the units loaded so far are closed in reverse order before
// the error is returned; cancellation takes the same path.
func (l *Loader) Load(ctx context.Context, manifestURL string, m *bundle.Manifest, desc platform.Descriptor) (*Handle, error) {
	res, err := Resolve(m, desc)
	if err != nil {
		return nil, err
	}

	h := &Handle{}
	rootSet := make(map[string]bool, len(res.Roots))
	for _, id := range res.Roots {
		rootSet[string(id)] = true
	}

	for _, id := range res.Order {
		if err := ctx.Err(); err != nil {
			h.unwind(ctx)
			return nil, err
		}

		node := m.Node(id)
		if len(node.Unresolved) > 0 {
			// System libraries are left to the host's default
			// search when the unit is opened.
			Logger().Debug("node has unresolved dependencies",
				zap.String("name", node.Name),
				zap.Strings("unresolved", node.Unresolved))
		}

		unit, err := l.loadNode(ctx, manifestURL, node)
		if err != nil {
			h.unwind(ctx)
			return nil, err
		}

		h.units = append(h.units, loadedUnit{id: string(id), name: node.Name, unit: unit})
		if rootSet[string(id)] {
			h.roots = append(h.roots, unit)
		}

		Logger().Debug("loaded unit",
			zap.String("name", node.Name),
			zap.String("id", string(id)),
			zap.Bool("root", rootSet[string(id)]))
	}

	return h, nil
}

func (l *Loader) loadNode(ctx context.Context, manifestURL string, node *bundle.Node) (Unit, error) {
	t, err := platform.Parse(node.Triple)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "node "+string(node.ID))
	}

	data, err := l.Fetcher.FetchBlob(ctx, manifestURL, node.Hash)
	if err != nil {
		return nil, err
	}

	if t.IsWASM() {
		// A wasm unit brings its whole world with it. Packaged
		// edges would imply cross-module linking the instance
		// model does not provide.
		if len(node.Needs) > 0 {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Node(node.Name).
				Detail("wasm module declares %d packaged dependencies", len(node.Needs)).
				Build()
		}
		if l.WASM == nil {
			return nil, errors.NoCompatibleVariant(node.Name, node.Triple)
		}
		return l.WASM.Instantiate(ctx, node.Name, data)
	}

	if l.Native == nil {
		return nil, errors.NoCompatibleVariant(node.Name, node.Triple)
	}

	path, err := l.materialize(node, data)
	if err != nil {
		return nil, err
	}
	return l.Native.Open(ctx, path)
}

// materialize writes a native payload under WorkDir/<hash>/<name> so
// the dynamic linker can open it by path. The file keeps its original
// basename: interdependent libraries find each other through the
// loader opening them explicitly, not through SONAME search.
func (l *Loader) materialize(node *bundle.Node, data []byte) (string, error) {
	dir := filepath.Join(l.WorkDir, string(node.Hash))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "create work dir")
	}

	path := filepath.Join(dir, filepath.Base(node.Name))
	if _, err := os.Stat(path); err == nil {
		// Content-addressed: an existing file has identical bytes.
		return path, nil
	}

	tmp, err := os.CreateTemp(dir, ".materialize-*")
	if err != nil {
		return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "create payload file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "write payload")
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "chmod payload")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "close payload")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "publish payload")
	}
	return path, nil
}

// unwind closes everything loaded so far, newest first. Used on the
// failure path before a Handle is ever returned.
func (h *Handle) unwind(ctx context.Context) {
	for i := len(h.units) - 1; i >= 0; i-- {
		u := h.units[i]
		if err := u.unit.Close(ctx); err != nil {
			Logger().Warn("unload during unwind failed",
				zap.String("name", u.name),
				zap.Error(err))
		}
	}
	h.units = nil
	h.roots = nil
}

// Lookup resolves a symbol against the handle's root units, in root
// order. A missing symbol is not fatal to the handle.
func (h *Handle) Lookup(name string) (Symbol, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Symbol{}, errors.Closed(errors.PhaseSymbol, "handle")
	}

	var lastErr error
	for _, u := range h.roots {
		sym, err := u.Lookup(name)
		if err == nil {
			return sym, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.SymbolNotFound(name, nil)
	}
	return Symbol{}, lastErr
}

// AttachCloser registers extra cleanup to run after all units have been
// unloaded on Release. Used by owners of per-handle resources such as a
// wasm runtime.
func (h *Handle) AttachCloser(fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extra = append(h.extra, fn)
}

// Release unloads every unit in strict reverse load order. It is
// idempotent; the first unload error is returned after all units have
// been attempted.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var firstErr error
	for i := len(h.units) - 1; i >= 0; i-- {
		u := h.units[i]
		if err := u.unit.Close(ctx); err != nil {
			Logger().Warn("unload failed",
				zap.String("name", u.name),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	h.units = nil
	h.roots = nil

	for i := len(h.extra) - 1; i >= 0; i-- {
		if err := h.extra[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.extra = nil

	return firstErr
}
