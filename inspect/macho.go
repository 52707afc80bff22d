package inspect

import (
	"context"
	"debug/macho"
	"os"
	"path/filepath"
	"strings"

	"github.com/dllpack/dllpack-go/errors"
)

// MachOInspector reads LC_LOAD_DYLIB install names from Mach-O load
// commands. Install names are usually absolute or @rpath-relative;
// @rpath and @loader_path are expanded best-effort against the binary's
// own directory.
type MachOInspector struct {
	ExtraDirs []string
}

func NewMachOInspector() *MachOInspector {
	return &MachOInspector{}
}

func (i *MachOInspector) Target() string { return "macho" }

func (i *MachOInspector) ListDependencies(ctx context.Context, path string) ([]DependencyRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := macho.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInspect, errors.KindInvalidData, err, "open Mach-O "+path)
	}
	defer f.Close()

	libs, err := f.ImportedLibraries()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInspect, errors.KindInvalidData, err, "read load commands of "+path)
	}

	origin := filepath.Dir(path)

	refs := make([]DependencyRef, 0, len(libs))
	for _, install := range libs {
		name := filepath.Base(install)
		if systemDylib(install) {
			refs = append(refs, DependencyRef{Name: name})
			continue
		}
		if p, ok := i.resolveInstallName(install, origin); ok {
			refs = append(refs, DependencyRef{Name: name, Path: p, Resolved: true})
		} else {
			refs = append(refs, DependencyRef{Name: name})
		}
	}
	return refs, nil
}

func (i *MachOInspector) resolveInstallName(install, origin string) (string, bool) {
	switch {
	case strings.HasPrefix(install, "@rpath/"), strings.HasPrefix(install, "@loader_path/"), strings.HasPrefix(install, "@executable_path/"):
		rest := install[strings.Index(install, "/")+1:]
		dirs := append([]string{origin}, i.ExtraDirs...)
		return findInDirs(rest, dirs)
	case filepath.IsAbs(install):
		if st, err := os.Stat(install); err == nil && st.Mode().IsRegular() {
			return install, true
		}
		return "", false
	default:
		dirs := append([]string{origin}, i.ExtraDirs...)
		return findInDirs(install, append(dirs, "/usr/local/lib", "/usr/lib"))
	}
}

// systemDylib reports install names satisfied by the OS itself. On
// modern macOS these are in the dyld shared cache and do not exist as
// files at their install path at all.
func systemDylib(install string) bool {
	return strings.HasPrefix(install, "/usr/lib/") ||
		strings.HasPrefix(install, "/System/Library/")
}
