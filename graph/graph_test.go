package graph

import (
	"errors"
	"testing"

	dllerrors "github.com/dllpack/dllpack-go/errors"
)

// buildTestGraph wires nodes by hand: edges maps node name to dep names.
func buildTestGraph(roots []string, edges map[string][]string) *Graph {
	g := New()
	id := func(name string) NodeID { return NodeID("id-" + name) }

	add := func(name string) {
		if g.Nodes[id(name)] != nil {
			return
		}
		g.Nodes[id(name)] = &BinaryNode{ID: id(name), Name: name}
	}
	for name, deps := range edges {
		add(name)
		for _, d := range deps {
			add(d)
			n := g.Nodes[id(name)]
			n.Needs = append(n.Needs, id(d))
		}
	}
	for _, r := range roots {
		add(r)
		g.Roots = append(g.Roots, id(r))
	}
	return g
}

func indexOf(order []NodeID, id NodeID) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return -1
}

func TestTopoOrderChain(t *testing.T) {
	g := buildTestGraph([]string{"root"}, map[string][]string{
		"root": {"a"},
		"a":    {"b"},
		"b":    {"c"},
	})

	order, err := g.TopoOrder(g.Roots)
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("got %d nodes, want 4", len(order))
	}

	for _, pair := range [][2]string{{"c", "b"}, {"b", "a"}, {"a", "root"}} {
		dep, dependent := NodeID("id-"+pair[0]), NodeID("id-"+pair[1])
		if indexOf(order, dep) > indexOf(order, dependent) {
			t.Errorf("%s must load before %s: %v", pair[0], pair[1], order)
		}
	}
}

func TestTopoOrderDiamond(t *testing.T) {
	g := buildTestGraph([]string{"root"}, map[string][]string{
		"root": {"a", "b"},
		"a":    {"d"},
		"b":    {"d"},
	})

	order, err := g.TopoOrder(g.Roots)
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}

	dIdx := indexOf(order, "id-d")
	for _, name := range []string{"a", "b", "root"} {
		if dIdx > indexOf(order, NodeID("id-"+name)) {
			t.Errorf("shared dep d must load before %s: %v", name, order)
		}
	}
}

func TestTopoOrderDeterministic(t *testing.T) {
	g := buildTestGraph([]string{"root"}, map[string][]string{
		"root": {"a", "b", "c"},
	})

	first, err := g.TopoOrder(g.Roots)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := g.TopoOrder(g.Roots)
		if err != nil {
			t.Fatal(err)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("order not deterministic: %v vs %v", first, again)
			}
		}
	}
}

func TestTopoOrderCycle(t *testing.T) {
	g := buildTestGraph([]string{"a"}, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})

	_, err := g.TopoOrder(g.Roots)
	if !errors.Is(err, &dllerrors.CycleError{}) {
		t.Fatalf("got %v, want CycleError", err)
	}
}

func TestTopoOrderScopedToRoots(t *testing.T) {
	g := buildTestGraph([]string{"r1", "r2"}, map[string][]string{
		"r1": {"a"},
		"r2": {"b"},
	})

	order, err := g.TopoOrder([]NodeID{"id-r1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 {
		t.Fatalf("closure of r1 = %v, want r1 and a only", order)
	}
	if indexOf(order, "id-b") != -1 {
		t.Error("b is not reachable from r1")
	}
}

func TestClosure(t *testing.T) {
	g := buildTestGraph([]string{"root"}, map[string][]string{
		"root": {"a"},
		"a":    {"d"},
		"b":    {"d"}, // unreachable from root
	})

	closure := g.Closure([]NodeID{"id-root"})
	if len(closure) != 3 {
		t.Fatalf("closure size = %d, want 3", len(closure))
	}
	if _, ok := closure["id-b"]; ok {
		t.Error("unreachable node in closure")
	}
}
