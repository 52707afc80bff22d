package pack

import (
	"context"
	"os"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/graph"
)

const defaultWorkers = 4

// Variant is one platform build of a logical library, discovered into
// its own dependency graph. Variants sharing a Name are grouped into
// one VariantSet in the manifest, so the runtime resolver can pick the
// right build without re-walking the graph.
type Variant struct {
	// Name is the logical library name shared across platforms.
	Name string

	// Graph is the dependency graph built for this variant's target.
	// Its first root is the variant's entry node.
	Graph *graph.Graph
}

// Packer turns dependency graphs into a manifest plus content-addressed
// blobs. Payloads are re-read at pack time and verified against the
// hash recorded during discovery: a file that vanished or changed in
// between fails loudly instead of packing stale bytes.
type Packer struct {
	// Store receives every unique payload. Two nodes with identical
	// hash share one entry no matter how many edges reference them.
	Store cas.Store

	// Workers bounds concurrent payload reads. Zero means a small
	// default.
	Workers int
}

// Pack merges the given variants into one manifest and fills the
// packer's store. Any error aborts the whole operation; no partial
// manifest is returned.
func (p *Packer) Pack(ctx context.Context, variants ...Variant) (*bundle.Manifest, error) {
	if p.Store == nil {
		return nil, errors.InvalidData(errors.PhasePack, "packer has no blob store")
	}
	if len(variants) == 0 {
		return nil, errors.InvalidData(errors.PhasePack, "nothing to pack")
	}

	merged := make(map[graph.NodeID]*graph.BinaryNode)
	sets := make(map[string]map[string]graph.NodeID) // name -> triple -> node
	var setNames []string
	var roots []graph.NodeID
	seenRoot := make(map[graph.NodeID]bool)

	for _, v := range variants {
		if v.Graph == nil || len(v.Graph.Roots) == 0 {
			return nil, errors.InvalidData(errors.PhasePack, "variant "+v.Name+" has no root")
		}
		root := v.Graph.Roots[0]
		rootNode := v.Graph.Node(root)
		triple := rootNode.Triple.String()

		set, ok := sets[v.Name]
		if !ok {
			set = make(map[string]graph.NodeID)
			sets[v.Name] = set
			setNames = append(setNames, v.Name)
		}
		if prior, dup := set[triple]; dup && prior != root {
			return nil, errors.New(errors.PhasePack, errors.KindInvalidData).
				Node(v.Name).
				Detail("two different nodes for triple %s in one variant set", triple).
				Build()
		}
		set[triple] = root

		if !seenRoot[root] {
			seenRoot[root] = true
			roots = append(roots, root)
		}

		for id, n := range v.Graph.Nodes {
			merged[id] = n
		}
	}

	if err := p.storePayloads(ctx, merged); err != nil {
		return nil, err
	}

	m := &bundle.Manifest{SpecVersion: bundle.SpecVersion, Roots: roots}

	sort.Strings(setNames)
	for _, name := range setNames {
		m.Variants = append(m.Variants, bundle.VariantSet{Name: name, Platforms: sets[name]})
	}

	for _, n := range merged {
		m.Nodes = append(m.Nodes, bundle.Node{
			ID:         n.ID,
			Name:       n.Name,
			Triple:     n.Triple.String(),
			Hash:       n.Hash,
			Size:       n.Size,
			Needs:      append([]graph.NodeID(nil), n.Needs...),
			Unresolved: append([]string(nil), n.Unresolved...),
		})
	}
	sort.Slice(m.Nodes, func(i, j int) bool { return m.Nodes[i].ID < m.Nodes[j].ID })

	if err := m.Validate(); err != nil {
		return nil, err
	}

	Logger().Debug("packed manifest",
		zap.Int("nodes", len(m.Nodes)),
		zap.Int("variants", len(m.Variants)),
		zap.Int("roots", len(m.Roots)))
	return m, nil
}

// storePayloads re-reads and stores every unique payload concurrently.
func (p *Packer) storePayloads(ctx context.Context, nodes map[graph.NodeID]*graph.BinaryNode) error {
	workers := p.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, n := range nodes {
		node := n
		group.Go(func() error {
			return p.storeOne(gctx, node)
		})
	}
	return group.Wait()
}

func (p *Packer) storeOne(ctx context.Context, n *graph.BinaryNode) error {
	if p.Store.Has(n.Hash) {
		return nil
	}
	if n.Path == "" {
		return errors.New(errors.PhasePack, errors.KindPayloadUnreadable).
			Node(n.Name).
			Detail("node has no source path").
			Build()
	}

	// Re-stat before reading: the file may have vanished or changed
	// permissions between inspection and packing.
	if _, err := os.Stat(n.Path); err != nil {
		return errors.PayloadUnreadable(n.Name, n.Path, err)
	}
	b, err := os.ReadFile(n.Path)
	if err != nil {
		return errors.PayloadUnreadable(n.Name, n.Path, err)
	}

	// The payload must still be the bytes the graph was built from.
	if got := cas.Sum(b); got != n.Hash {
		return errors.New(errors.PhasePack, errors.KindIntegrity).
			Node(n.Name).
			Hash(string(n.Hash)).
			Detail("payload changed since discovery: now %s", got).
			Build()
	}

	h, err := p.Store.Put(ctx, b)
	if err != nil {
		return err
	}
	Logger().Debug("stored payload", zap.String("node", n.Name), zap.String("hash", string(h)))
	return nil
}
