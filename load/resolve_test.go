package load

import (
	"errors"
	"testing"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/cas"
	dllerrors "github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/graph"
	"github.com/dllpack/dllpack-go/platform"
)

const (
	linuxTriple = "x86_64-unknown-linux-gnu"
	armTriple   = "aarch64-apple-darwin"
	wasiTriple  = platform.WASIFallback
)

// testNode fabricates a manifest node whose id doubles as its hash,
// derived from the payload the fake fetcher will serve for it.
func testNode(name, triple string, needs ...graph.NodeID) (bundle.Node, []byte) {
	payload := []byte("payload of " + name + " for " + triple)
	h := cas.Sum(payload)
	return bundle.Node{
		ID:     graph.NodeID(h),
		Name:   name,
		Triple: triple,
		Hash:   h,
		Size:   int64(len(payload)),
		Needs:  needs,
	}, payload
}

func descFor(t *testing.T, triple string, wasm bool) platform.Descriptor {
	t.Helper()
	target, err := platform.Parse(triple)
	if err != nil {
		t.Fatalf("parse triple %q: %v", triple, err)
	}
	return platform.Descriptor{Target: target, NativeLoad: true, WASM: wasm}
}

func TestResolveVariantSelection(t *testing.T) {
	linuxNode, _ := testNode("libmath.so", linuxTriple)
	wasmNode, _ := testNode("libmath.wasm", wasiTriple)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Variants: []bundle.VariantSet{{
			Name: "libmath.so",
			Platforms: map[string]graph.NodeID{
				linuxTriple: linuxNode.ID,
				wasiTriple:  wasmNode.ID,
			},
		}},
		Nodes: []bundle.Node{linuxNode, wasmNode},
		Roots: []graph.NodeID{linuxNode.ID},
	}

	tests := []struct {
		name     string
		desc     platform.Descriptor
		want     graph.NodeID
		fallback bool
	}{
		{"exact native match", descFor(t, linuxTriple, true), linuxNode.ID, false},
		{"wasm target exact match", descFor(t, wasiTriple, true), wasmNode.ID, false},
		{"wasm fallback for foreign host", descFor(t, armTriple, true), wasmNode.ID, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(m, tt.desc)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if len(res.Roots) != 1 || res.Roots[0] != tt.want {
				t.Errorf("roots = %v, want [%s]", res.Roots, tt.want)
			}
			if res.Fallback != tt.fallback {
				t.Errorf("fallback = %v, want %v", res.Fallback, tt.fallback)
			}
		})
	}
}

func TestResolveNoCompatibleVariant(t *testing.T) {
	linuxNode, _ := testNode("libmath.so", linuxTriple)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Variants: []bundle.VariantSet{{
			Name:      "libmath.so",
			Platforms: map[string]graph.NodeID{linuxTriple: linuxNode.ID},
		}},
		Nodes: []bundle.Node{linuxNode},
		Roots: []graph.NodeID{linuxNode.ID},
	}

	// No wasm variant exists, so allowing wasm does not help.
	_, err := Resolve(m, descFor(t, armTriple, true))
	if !errors.Is(err, &dllerrors.Error{Phase: dllerrors.PhaseResolve, Kind: dllerrors.KindNoCompatibleVariant}) {
		t.Fatalf("got %v, want NoCompatibleVariant", err)
	}
}

func TestResolveWasmNotExecutable(t *testing.T) {
	wasmNode, _ := testNode("libmath.wasm", wasiTriple)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Variants: []bundle.VariantSet{{
			Name:      "libmath.wasm",
			Platforms: map[string]graph.NodeID{wasiTriple: wasmNode.ID},
		}},
		Nodes: []bundle.Node{wasmNode},
		Roots: []graph.NodeID{wasmNode.ID},
	}

	_, err := Resolve(m, descFor(t, linuxTriple, false))
	if !errors.Is(err, &dllerrors.Error{Phase: dllerrors.PhaseResolve, Kind: dllerrors.KindNoCompatibleVariant}) {
		t.Fatalf("got %v, want NoCompatibleVariant when wasm is disabled", err)
	}
}

func TestResolveRootWithoutVariantEntry(t *testing.T) {
	node, _ := testNode("libplain.so", linuxTriple)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Nodes:       []bundle.Node{node},
		Roots:       []graph.NodeID{node.ID},
	}

	res, err := Resolve(m, descFor(t, linuxTriple, true))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Roots) != 1 || res.Roots[0] != node.ID {
		t.Errorf("roots = %v, want the root itself", res.Roots)
	}

	if _, err := Resolve(m, descFor(t, armTriple, true)); err == nil {
		t.Error("expected NoCompatibleVariant for a root with a foreign triple")
	}
}

func TestResolveOrderDepsFirst(t *testing.T) {
	leaf, _ := testNode("libleaf.so", linuxTriple)
	mid, _ := testNode("libmid.so", linuxTriple, leaf.ID)
	root, _ := testNode("libroot.so", linuxTriple, mid.ID)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Nodes:       []bundle.Node{root, mid, leaf},
		Roots:       []graph.NodeID{root.ID},
	}

	res, err := Resolve(m, descFor(t, linuxTriple, true))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pos := make(map[graph.NodeID]int)
	for i, id := range res.Order {
		pos[id] = i
	}
	if pos[leaf.ID] > pos[mid.ID] || pos[mid.ID] > pos[root.ID] {
		t.Errorf("load order %v does not put dependencies first", res.Order)
	}
}
