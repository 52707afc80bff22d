package dllpack

import (
	"context"
	stderrors "errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/fetch"
	"github.com/dllpack/dllpack-go/load"
	"github.com/dllpack/dllpack-go/platform"
)

// Load fetches the bundle at url and loads it for the host platform.
// When the host has no compatible native variant, or the native load
// itself fails, it retries with the bundle's wasm32-wasip1 variant.
//
// workDir holds the blob cache, the wasm compilation cache, and the
// materialized native payloads. It is safe to reuse across calls and
// processes.
func Load(ctx context.Context, url, workDir string) (*load.Handle, error) {
	desc := platform.HostDescriptor()

	h, err := loadWith(ctx, url, workDir, desc)
	if err == nil {
		return h, nil
	}
	if desc.Target.IsWASM() || !desc.WASM || !wasmCouldHelp(err) {
		return nil, err
	}

	fallback, perr := platform.Parse(platform.WASIFallback)
	if perr != nil {
		return nil, err
	}

	Logger().Warn("native load failed, retrying with wasm variant",
		zap.String("url", url),
		zap.Error(err))

	return loadWith(ctx, url, workDir, platform.Descriptor{Target: fallback, WASM: true})
}

// LoadWithPlatform loads the bundle for an explicit target triple with
// no fallback. The triple must be loadable on the calling host: its own
// triple, or a wasm triple.
func LoadWithPlatform(ctx context.Context, url, workDir string, target platform.Triple) (*load.Handle, error) {
	return loadWith(ctx, url, workDir, platform.Descriptor{
		Target:     target,
		NativeLoad: !target.IsWASM(),
		WASM:       target.IsWASM(),
	})
}

func loadWith(ctx context.Context, url, workDir string, desc platform.Descriptor) (*load.Handle, error) {
	client, err := fetch.NewClient(filepath.Join(workDir, "blobs"))
	if err != nil {
		return nil, err
	}

	m, err := client.FetchManifest(ctx, url)
	if err != nil {
		return nil, err
	}

	loader := &load.Loader{
		Fetcher: client,
		WorkDir: filepath.Join(workDir, "lib"),
	}
	if desc.NativeLoad {
		loader.Native = load.NewNativeBackend()
	}

	var wasmBackend *load.WazeroBackend
	if desc.WASM {
		wasmBackend, err = load.NewWASMBackend(ctx, filepath.Join(workDir, "wasm-cache"))
		if err != nil {
			return nil, err
		}
		loader.WASM = wasmBackend
	}

	h, err := loader.Load(ctx, url, m, desc)
	if err != nil {
		if wasmBackend != nil {
			wasmBackend.Close(ctx)
		}
		return nil, err
	}
	if wasmBackend != nil {
		h.AttachCloser(wasmBackend.Close)
	}
	return h, nil
}

// wasmCouldHelp reports whether retrying with a wasm variant has any
// chance of succeeding: the native variant was missing, unsupported, or
// failed to load. Fetch and manifest errors stay fatal.
func wasmCouldHelp(err error) bool {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return false
	}
	if e.Kind == errors.KindNoCompatibleVariant || e.Kind == errors.KindUnsupported {
		return true
	}
	return e.Phase == errors.PhaseLoad
}
