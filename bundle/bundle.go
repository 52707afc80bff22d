package bundle

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/graph"
	"github.com/dllpack/dllpack-go/platform"
)

// SpecVersion is the manifest format version this code writes. Readers
// accept any version with the same major number and ignore unknown
// fields, so minor additions stay forward-compatible.
const SpecVersion = "1.0.0"

// ManifestName is the manifest's file name inside a bundle directory.
const ManifestName = "manifest.dllpack"

// BlobDir is the directory holding content-addressed payloads, next to
// the manifest.
const BlobDir = "blobs"

// Node is the serialized form of one binary in the bundle.
type Node struct {
	ID     graph.NodeID `json:"id"`
	Name   string       `json:"name"`
	Triple string       `json:"triple"`
	Hash   cas.Hash     `json:"hash"`
	Size   int64        `json:"size"`

	// Needs are edges to other nodes in this manifest.
	Needs []graph.NodeID `json:"needs,omitempty"`

	// Unresolved lists dependency names assumed present on the target.
	Unresolved []string `json:"unresolved,omitempty"`
}

// VariantSet groups the per-platform builds of one logical library.
// Platforms maps a target triple to the node implementing the library
// for that triple, so there is at most one node per (name, triple).
type VariantSet struct {
	Name      string                  `json:"name"`
	Platforms map[string]graph.NodeID `json:"platforms"`
}

// Manifest is the bundle's structured document: format version, graph
// topology, variant groupings, and root node ids. Immutable once
// packaged.
type Manifest struct {
	SpecVersion string         `json:"spec-version"`
	Variants    []VariantSet   `json:"variants"`
	Nodes       []Node         `json:"nodes"`
	Roots       []graph.NodeID `json:"roots"`
}

// Encode serializes the manifest in canonical form: variants and nodes
// sorted, map keys in lexical order, no insignificant whitespace.
// Decoding canonical bytes and re-encoding yields identical bytes.
func (m *Manifest) Encode() ([]byte, error) {
	cp := *m
	cp.Variants = append([]VariantSet(nil), m.Variants...)
	cp.Nodes = append([]Node(nil), m.Nodes...)
	sort.Slice(cp.Variants, func(i, j int) bool { return cp.Variants[i].Name < cp.Variants[j].Name })
	sort.Slice(cp.Nodes, func(i, j int) bool { return cp.Nodes[i].ID < cp.Nodes[j].ID })

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&cp); err != nil {
		return nil, errors.Wrap(errors.PhaseManifest, errors.KindInvalidData, err, "encode manifest")
	}
	return buf.Bytes(), nil
}

// Decode parses manifest bytes, gates on the spec version, and
// validates graph topology. Unknown fields are ignored.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseManifest, errors.KindInvalidData, err, "parse manifest")
	}

	major, _, ok := strings.Cut(m.SpecVersion, ".")
	if !ok || major != "1" {
		return nil, errors.VersionUnsupported(m.SpecVersion)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks referential integrity: every edge, variant entry and
// root must point at a node present in the manifest.
func (m *Manifest) Validate() error {
	byID := make(map[graph.NodeID]*Node, len(m.Nodes))
	for i := range m.Nodes {
		n := &m.Nodes[i]
		if n.ID == "" {
			return errors.InvalidData(errors.PhaseManifest, "node with empty id")
		}
		if _, err := cas.Parse(string(n.Hash)); err != nil {
			return errors.New(errors.PhaseManifest, errors.KindInvalidData).
				Node(string(n.ID)).
				Detail("malformed hash %q", n.Hash).
				Build()
		}
		byID[n.ID] = n
	}

	for i := range m.Nodes {
		n := &m.Nodes[i]
		for _, dep := range n.Needs {
			if _, ok := byID[dep]; !ok {
				return errors.New(errors.PhaseManifest, errors.KindInvalidData).
					Node(string(n.ID)).
					Detail("edge to unknown node %s", dep).
					Build()
			}
		}
	}

	for _, vs := range m.Variants {
		for triple, id := range vs.Platforms {
			if _, err := platform.Parse(triple); err != nil {
				return errors.InvalidData(errors.PhaseManifest, "variant "+vs.Name+" has malformed triple "+triple)
			}
			if _, ok := byID[id]; !ok {
				return errors.New(errors.PhaseManifest, errors.KindInvalidData).
					Node(string(id)).
					Detail("variant %s/%s names unknown node", vs.Name, triple).
					Build()
			}
		}
	}

	for _, r := range m.Roots {
		if _, ok := byID[r]; !ok {
			return errors.New(errors.PhaseManifest, errors.KindInvalidData).
				Node(string(r)).
				Detail("root names unknown node").
				Build()
		}
	}
	return nil
}

// Node returns the node with the given id, or nil.
func (m *Manifest) Node(id graph.NodeID) *Node {
	for i := range m.Nodes {
		if m.Nodes[i].ID == id {
			return &m.Nodes[i]
		}
	}
	return nil
}

// Variant returns the variant set for a logical name, or nil.
func (m *Manifest) Variant(name string) *VariantSet {
	for i := range m.Variants {
		if m.Variants[i].Name == name {
			return &m.Variants[i]
		}
	}
	return nil
}

// Graph reconstructs the dependency graph described by the manifest,
// so load-time ordering reuses the same topology algorithms as pack
// time.
func (m *Manifest) Graph() *graph.Graph {
	g := graph.New()
	for i := range m.Nodes {
		n := &m.Nodes[i]
		triple, _ := platform.Parse(n.Triple)
		g.Nodes[n.ID] = &graph.BinaryNode{
			ID:         n.ID,
			Name:       n.Name,
			Triple:     triple,
			Hash:       n.Hash,
			Size:       n.Size,
			Needs:      append([]graph.NodeID(nil), n.Needs...),
			Unresolved: append([]string(nil), n.Unresolved...),
		}
	}
	g.Roots = append([]graph.NodeID(nil), m.Roots...)
	return g
}
