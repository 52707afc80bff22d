package inspect

import (
	"context"
	"debug/elf"
	"os"
	"path/filepath"
	"strings"

	"github.com/dllpack/dllpack-go/errors"
)

// ELFInspector reads DT_NEEDED entries from ELF dynamic sections and
// resolves them against the host's library search order: DT_RPATH /
// DT_RUNPATH (with $ORIGIN expansion), LD_LIBRARY_PATH, then the
// conventional system directories.
type ELFInspector struct {
	// ExtraDirs is searched after the binary's own runpaths, before
	// system directories. Used by the packer to point at build output.
	ExtraDirs []string
}

func NewELFInspector() *ELFInspector {
	return &ELFInspector{}
}

func (i *ELFInspector) Target() string { return "elf" }

func (i *ELFInspector) ListDependencies(ctx context.Context, path string) ([]DependencyRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInspect, errors.KindInvalidData, err, "open ELF "+path)
	}
	defer f.Close()

	needed, err := f.DynString(elf.DT_NEEDED)
	if err != nil {
		// Statically linked binaries have no dynamic section.
		return nil, nil
	}

	origin := filepath.Dir(path)
	dirs := i.searchDirs(f, origin)

	refs := make([]DependencyRef, 0, len(needed))
	for _, name := range needed {
		if systemELFLib(name) {
			refs = append(refs, DependencyRef{Name: name})
			continue
		}
		if p, ok := findInDirs(name, dirs); ok {
			refs = append(refs, DependencyRef{Name: name, Path: p, Resolved: true})
		} else {
			refs = append(refs, DependencyRef{Name: name})
		}
	}
	return refs, nil
}

func (i *ELFInspector) searchDirs(f *elf.File, origin string) []string {
	var dirs []string

	// DT_RUNPATH takes precedence over the older DT_RPATH.
	runpaths, _ := f.DynString(elf.DT_RUNPATH)
	if len(runpaths) == 0 {
		runpaths, _ = f.DynString(elf.DT_RPATH)
	}
	for _, rp := range runpaths {
		for _, d := range strings.Split(rp, ":") {
			if d == "" {
				continue
			}
			dirs = append(dirs, strings.ReplaceAll(d, "$ORIGIN", origin))
		}
	}

	dirs = append(dirs, i.ExtraDirs...)

	if env := os.Getenv("LD_LIBRARY_PATH"); env != "" {
		for _, d := range strings.Split(env, ":") {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
	}

	dirs = append(dirs, elfMachineDirs(f.Machine)...)
	return append(dirs, "/lib", "/usr/lib", "/lib64", "/usr/lib64", "/usr/local/lib")
}

// elfMachineDirs returns the Debian-style multiarch directories for the
// binary's machine, which on such systems hold the actual libraries.
func elfMachineDirs(m elf.Machine) []string {
	var arch string
	switch m {
	case elf.EM_X86_64:
		arch = "x86_64-linux-gnu"
	case elf.EM_AARCH64:
		arch = "aarch64-linux-gnu"
	case elf.EM_386:
		arch = "i386-linux-gnu"
	case elf.EM_ARM:
		arch = "arm-linux-gnueabihf"
	default:
		return nil
	}
	return []string{"/lib/" + arch, "/usr/lib/" + arch}
}

func findInDirs(name string, dirs []string) (string, bool) {
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs, true
			}
			return p, true
		}
	}
	return "", false
}

// systemELFLib reports names that are assumed present on every target
// and intentionally never shipped: the dynamic loader itself and the
// core libc family. Shipping the target's libc is the classic way to
// produce an unloadable bundle.
func systemELFLib(name string) bool {
	switch {
	case strings.HasPrefix(name, "ld-linux"):
		return true
	case strings.HasPrefix(name, "libc.so"),
		strings.HasPrefix(name, "libm.so"),
		strings.HasPrefix(name, "libdl.so"),
		strings.HasPrefix(name, "librt.so"),
		strings.HasPrefix(name, "libpthread.so"),
		strings.HasPrefix(name, "libresolv.so"),
		strings.HasPrefix(name, "libgcc_s.so"):
		return true
	}
	return false
}
