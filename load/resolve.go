package load

import (
	"sort"

	"go.uber.org/zap"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/graph"
	"github.com/dllpack/dllpack-go/platform"
)

// Resolution is the outcome of variant selection: the root nodes chosen
// for the requested platform and the order in which their closure must
// be loaded, dependencies strictly before dependents.
type Resolution struct {
	// Roots are the selected variant nodes, one per manifest root name.
	Roots []graph.NodeID

	// Order covers the closure of Roots in load order.
	Order []graph.NodeID

	// Fallback is true when at least one root resolved to a wasm
	// variant because no native variant matched the target.
	Fallback bool
}

// Resolve selects one variant per manifest root for the described
// platform. An exact triple match wins; when none exists and the
// descriptor can execute wasm, a wasm variant is taken instead.
// Roots with neither yield NoCompatibleVariant.
func Resolve(m *bundle.Manifest, desc platform.Descriptor) (*Resolution, error) {
	res := &Resolution{}
	seen := make(map[graph.NodeID]bool)

	for _, rootID := range m.Roots {
		rootNode := m.Node(rootID)
		if rootNode == nil {
			return nil, errors.NotFound(errors.PhaseResolve, "root node", string(rootID))
		}

		id, fellBack, err := selectVariant(m, rootNode.Name, rootID, desc)
		if err != nil {
			return nil, err
		}
		res.Fallback = res.Fallback || fellBack

		if !seen[id] {
			seen[id] = true
			res.Roots = append(res.Roots, id)
		}
	}

	order, err := m.Graph().TopoOrder(res.Roots)
	if err != nil {
		return nil, err
	}
	res.Order = order

	Logger().Debug("resolved bundle variants",
		zap.String("triple", desc.Target.String()),
		zap.Int("roots", len(res.Roots)),
		zap.Int("units", len(res.Order)),
		zap.Bool("wasm_fallback", res.Fallback))

	return res, nil
}

// selectVariant picks the node serving one logical root on the given
// platform. Roots absent from the variant table stand for themselves:
// they are compatible only if their own triple matches.
func selectVariant(m *bundle.Manifest, name string, rootID graph.NodeID, desc platform.Descriptor) (graph.NodeID, bool, error) {
	vs := m.Variant(name)
	if vs == nil {
		node := m.Node(rootID)
		t, err := platform.Parse(node.Triple)
		if err != nil {
			return "", false, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "node "+string(rootID))
		}
		if desc.Target.Matches(t) && (t.IsWASM() || desc.NativeLoad) {
			return rootID, false, nil
		}
		if desc.WASM && t.IsWASM() {
			return rootID, true, nil
		}
		return "", false, errors.NoCompatibleVariant(name, desc.Target.String())
	}

	// Deterministic iteration even though at most one triple can
	// match exactly.
	triples := make([]string, 0, len(vs.Platforms))
	for tripleStr := range vs.Platforms {
		triples = append(triples, tripleStr)
	}
	sort.Strings(triples)

	// Exact platform match first. Hosts that cannot dlopen skip
	// native candidates entirely.
	for _, tripleStr := range triples {
		t, err := platform.Parse(tripleStr)
		if err != nil {
			return "", false, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "variant "+name)
		}
		if !t.IsWASM() && !desc.NativeLoad {
			continue
		}
		if desc.Target.Matches(t) {
			return vs.Platforms[tripleStr], false, nil
		}
	}

	// Wasm variant as fallback when the host can execute it.
	if desc.WASM && !desc.Target.IsWASM() {
		for _, tripleStr := range triples {
			t, err := platform.Parse(tripleStr)
			if err != nil {
				continue
			}
			if t.IsWASM() {
				return vs.Platforms[tripleStr], true, nil
			}
		}
	}

	return "", false, errors.NoCompatibleVariant(name, desc.Target.String())
}
