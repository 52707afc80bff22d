package platform

import (
	"runtime"
	"strings"

	"github.com/dllpack/dllpack-go/errors"
)

// WASIFallback is the target every bundle may carry as a portable
// fallback variant. Hosts that cannot load native code load this one.
const WASIFallback = "wasm32-wasip1"

// Triple identifies a build target in the usual arch-vendor-os[-abi]
// notation, e.g. "x86_64-unknown-linux-gnu" or "wasm32-wasip1".
type Triple struct {
	Arch   string
	Vendor string
	OS     string
	ABI    string
}

// Parse splits a target triple string. Two-part wasm targets like
// "wasm32-wasip1" are accepted; everything else needs at least
// arch-vendor-os.
func Parse(s string) (Triple, error) {
	parts := strings.Split(s, "-")
	switch {
	case len(parts) == 2 && strings.HasPrefix(parts[0], "wasm"):
		return Triple{Arch: parts[0], OS: parts[1]}, nil
	case len(parts) == 3:
		return Triple{Arch: parts[0], Vendor: parts[1], OS: parts[2]}, nil
	case len(parts) >= 4:
		return Triple{Arch: parts[0], Vendor: parts[1], OS: parts[2], ABI: strings.Join(parts[3:], "-")}, nil
	default:
		return Triple{}, errors.InvalidData(errors.PhaseResolve, "malformed target triple "+s)
	}
}

func (t Triple) String() string {
	parts := []string{t.Arch}
	if t.Vendor != "" {
		parts = append(parts, t.Vendor)
	}
	parts = append(parts, t.OS)
	if t.ABI != "" {
		parts = append(parts, t.ABI)
	}
	return strings.Join(parts, "-")
}

// IsWASM reports whether the triple targets a WebAssembly runtime.
func (t Triple) IsWASM() bool {
	return strings.HasPrefix(t.Arch, "wasm")
}

// IsWASI reports whether the triple targets a WASI environment.
func (t Triple) IsWASI() bool {
	return t.IsWASM() && strings.Contains(t.OS, "wasi")
}

// Matches reports whether two triples identify the same load target.
// ABI differences are significant except when one side leaves ABI empty,
// which matches any ABI of the same arch/os (a "gnu" build loads fine
// on a host that did not state its libc flavor).
func (t Triple) Matches(other Triple) bool {
	if t.Arch != other.Arch || t.OS != other.OS {
		return false
	}
	if t.ABI == "" || other.ABI == "" {
		return true
	}
	return t.ABI == other.ABI
}

// Host returns the triple describing the running process.
func Host() Triple {
	arch := goarchToTriple(runtime.GOARCH)
	switch runtime.GOOS {
	case "linux":
		return Triple{Arch: arch, Vendor: "unknown", OS: "linux", ABI: "gnu"}
	case "darwin":
		return Triple{Arch: arch, Vendor: "apple", OS: "darwin"}
	case "windows":
		return Triple{Arch: arch, Vendor: "pc", OS: "windows", ABI: "msvc"}
	default:
		return Triple{Arch: arch, Vendor: "unknown", OS: runtime.GOOS}
	}
}

func goarchToTriple(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	default:
		return goarch
	}
}

// Descriptor describes the consuming machine's loading capabilities.
// Supplied by the embedding application at load time.
type Descriptor struct {
	// Target is the platform variants should match exactly.
	Target Triple

	// NativeLoad reports whether the host can dlopen native code.
	// When false only WebAssembly variants are considered.
	NativeLoad bool

	// WASM reports whether the host can execute WebAssembly modules.
	WASM bool
}

// HostDescriptor returns a Descriptor for the running process with both
// native and wasm loading available.
func HostDescriptor() Descriptor {
	return Descriptor{Target: Host(), NativeLoad: nativeLoadAvailable(), WASM: true}
}
