package inspect

import (
	"context"
	"debug/pe"
	"path/filepath"
	"strings"

	"github.com/dllpack/dllpack-go/errors"
)

// PEInspector derives imported DLL names from the PE import table.
// debug/pe exposes imports as "symbol:LIBRARY.dll" pairs, so the DLL
// set is collected from the symbol list. Resolution follows the
// application-directory rule: a DLL sitting next to the binary wins,
// anything else is assumed to come from the system search path.
type PEInspector struct {
	ExtraDirs []string
}

func NewPEInspector() *PEInspector {
	return &PEInspector{}
}

func (i *PEInspector) Target() string { return "pe" }

func (i *PEInspector) ListDependencies(ctx context.Context, path string) ([]DependencyRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := pe.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInspect, errors.KindInvalidData, err, "open PE "+path)
	}
	defer f.Close()

	symbols, err := f.ImportedSymbols()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInspect, errors.KindInvalidData, err, "read import table of "+path)
	}

	seen := make(map[string]bool)
	var names []string
	for _, sym := range symbols {
		_, dll, found := strings.Cut(sym, ":")
		if !found || dll == "" {
			continue
		}
		key := strings.ToLower(dll)
		if !seen[key] {
			seen[key] = true
			names = append(names, dll)
		}
	}

	origin := filepath.Dir(path)
	dirs := append([]string{origin}, i.ExtraDirs...)

	refs := make([]DependencyRef, 0, len(names))
	for _, name := range names {
		if systemDLL(name) {
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

// systemDLL reports DLLs every Windows installation provides.
func systemDLL(name string) bool {
	switch strings.ToLower(strings.TrimSuffix(strings.ToLower(name), ".dll")) {
	case "kernel32", "user32", "advapi32", "ntdll", "ws2_32",
		"msvcrt", "ucrtbase", "shell32", "ole32", "bcrypt":
		return true
	}
	return strings.HasPrefix(strings.ToLower(name), "api-ms-win-")
}
