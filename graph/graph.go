package graph

import (
	"sort"

	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/platform"
)

// NodeID identifies one binary in a dependency graph. Resolved nodes are
// identified by their content hash, so two files with identical bytes
// collapse into one node no matter how many names or paths reach them.
type NodeID string

// BinaryNode is one compiled artifact discovered during traversal.
type BinaryNode struct {
	ID     NodeID
	Name   string
	Triple platform.Triple

	// Hash is the content address of the payload bytes.
	Hash cas.Hash

	// Size is the payload length in bytes.
	Size int64

	// Path is where the payload was found at build time. Not part of
	// the node's identity and not serialized into bundles.
	Path string

	// Declared lists dependency names exactly as the inspector found
	// them, pre-resolution.
	Declared []string

	// Needs are resolved edges to other nodes in the same graph.
	Needs []NodeID

	// Unresolved lists declared names intentionally not shipped,
	// assumed present on the consuming host.
	Unresolved []string
}

// Graph is a DAG of binary nodes with one or more designated roots.
type Graph struct {
	Nodes map[NodeID]*BinaryNode
	Roots []NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{Nodes: make(map[NodeID]*BinaryNode)}
}

// Node returns the node for id, or nil.
func (g *Graph) Node(id NodeID) *BinaryNode {
	return g.Nodes[id]
}

// Closure returns every node reachable from the given roots, including
// the roots themselves.
func (g *Graph) Closure(roots []NodeID) map[NodeID]*BinaryNode {
	out := make(map[NodeID]*BinaryNode)
	var walk func(id NodeID)
	walk = func(id NodeID) {
		if _, ok := out[id]; ok {
			return
		}
		n := g.Nodes[id]
		if n == nil {
			return
		}
		out[id] = n
		for _, dep := range n.Needs {
			walk(dep)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// TopoOrder returns the closure of roots ordered so that every
// dependency appears strictly before its dependents. Nodes with no
// dependency relationship are ordered by ID for determinism. A
// non-empty remainder means a cycle survived into the graph, which is a
// hard error.
func (g *Graph) TopoOrder(roots []NodeID) ([]NodeID, error) {
	closure := g.Closure(roots)

	remaining := make(map[NodeID]int, len(closure))
	reverse := make(map[NodeID][]NodeID, len(closure))
	for id, n := range closure {
		count := 0
		for _, dep := range n.Needs {
			if _, ok := closure[dep]; ok {
				count++
				reverse[dep] = append(reverse[dep], id)
			}
		}
		remaining[id] = count
	}

	var available []NodeID
	for id, count := range remaining {
		if count == 0 {
			available = append(available, id)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i] < available[j] })

	order := make([]NodeID, 0, len(closure))
	for len(available) > 0 {
		id := available[0]
		available = available[1:]
		order = append(order, id)

		var freed []NodeID
		for _, dependent := range reverse[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Slice(freed, func(i, j int) bool { return freed[i] < freed[j] })
		available = append(available, freed...)
	}

	if len(order) != len(closure) {
		var stuck []string
		for id, count := range remaining {
			if count > 0 {
				stuck = append(stuck, closure[id].Name)
			}
		}
		sort.Strings(stuck)
		return nil, errors.NewCycleError(stuck)
	}
	return order, nil
}
