package graph

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/inspect"
	"github.com/dllpack/dllpack-go/platform"
)

const defaultWorkers = 4

// Builder discovers the transitive dependency closure of root binaries
// by applying an Inspector breadth-first. Distinct subtrees are
// inspected and hashed concurrently; the shared visited set is keyed by
// content hash with one insert-if-absent critical section, so a diamond
// dependency is read once no matter how many edges reach it.
type Builder struct {
	Inspector inspect.Inspector

	// Triple is recorded on every discovered node.
	Triple platform.Triple

	// Workers bounds concurrent inspection/hashing. Zero means a small
	// default.
	Workers int
}

// Root names one binary the user explicitly requested.
type Root struct {
	// Path locates the compiled binary.
	Path string

	// Name overrides the logical name; defaults to the file name.
	Name string
}

type hashEntry struct {
	once sync.Once
	hash cas.Hash
	size int64
	err  error
}

type builderState struct {
	insp    inspect.Inspector
	triple  platform.Triple
	group   *errgroup.Group
	ctx     context.Context
	mu      sync.Mutex
	nodes   map[NodeID]*BinaryNode
	hashes  map[string]*hashEntry // keyed by canonical path
	visited map[NodeID]bool
}

// trail is the ancestor chain of the current traversal path, used to
// tell a true back-edge from diamond reconvergence.
type trail struct {
	id     NodeID
	name   string
	parent *trail
}

func (t *trail) contains(id NodeID) bool {
	for at := t; at != nil; at = at.parent {
		if at.id == id {
			return true
		}
	}
	return false
}

func (t *trail) cycle(id NodeID) []string {
	var names []string
	for at := t; at != nil; at = at.parent {
		names = append([]string{at.name}, names...)
		if at.id == id {
			break
		}
	}
	return names
}

// Build traverses all roots and returns the merged dependency graph.
// Any error aborts the whole build; no partial graph is returned.
func (b *Builder) Build(ctx context.Context, roots ...Root) (*Graph, error) {
	if b.Inspector == nil {
		return nil, errors.InvalidData(errors.PhaseGraph, "builder has no inspector")
	}
	workers := b.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	st := &builderState{
		insp:    b.Inspector,
		triple:  b.Triple,
		group:   group,
		ctx:     gctx,
		nodes:   make(map[NodeID]*BinaryNode),
		hashes:  make(map[string]*hashEntry),
		visited: make(map[NodeID]bool),
	}

	g := New()
	for _, root := range roots {
		name := root.Name
		if name == "" {
			name = filepath.Base(root.Path)
		}
		id, err := st.enter(root.Path, name, nil)
		if err != nil {
			group.Wait()
			return nil, err
		}
		g.Roots = append(g.Roots, id)
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	g.Nodes = st.nodes

	// The ancestor trail only sees back-edges on the path that walked
	// them. A cycle whose members were all entered as roots is skipped
	// by every path through the visited set, so the finished graph gets
	// one acyclicity sweep before it is returned.
	if _, err := g.TopoOrder(g.Roots); err != nil {
		return nil, err
	}
	return g, nil
}

// enter hashes the binary at path, registers its node if unseen, and
// schedules its subtree for traversal. Returns the node's ID so the
// caller can attach an edge.
func (st *builderState) enter(path, name string, from *trail) (NodeID, error) {
	hash, size, canonical, err := st.hashFile(path, name)
	if err != nil {
		return "", err
	}
	id := NodeID(hash)

	if from.contains(id) {
		return "", errors.NewCycleError(append(from.cycle(id), name))
	}

	st.mu.Lock()
	if st.visited[id] {
		// Already discovered through another edge: attach and stop
		// descending.
		st.mu.Unlock()
		return id, nil
	}
	st.visited[id] = true
	node := &BinaryNode{
		ID:     id,
		Name:   name,
		Triple: st.triple,
		Hash:   hash,
		Size:   size,
		Path:   canonical,
	}
	st.nodes[id] = node
	st.mu.Unlock()

	here := &trail{id: id, name: name, parent: from}
	task := func() error {
		return st.expand(node, here)
	}
	// TryGo hands the subtree to the pool when a worker is free;
	// otherwise expand inline. Blocking on a pool slot from inside a
	// pool task would deadlock once the graph is deeper than the limit.
	if !st.group.TryGo(task) {
		if err := task(); err != nil {
			return "", err
		}
	}
	return id, nil
}

// expand inspects one node and attaches its outgoing edges.
func (st *builderState) expand(node *BinaryNode, here *trail) error {
	if err := st.ctx.Err(); err != nil {
		return err
	}

	refs, err := st.insp.ListDependencies(st.ctx, node.Path)
	if err != nil {
		return errors.Wrap(errors.PhaseGraph, errors.KindIO, err, "inspect "+node.Name)
	}

	var declared, unresolved []string
	var needs []NodeID
	for _, ref := range refs {
		declared = append(declared, ref.Name)
		if !ref.Resolved {
			unresolved = append(unresolved, ref.Name)
			continue
		}
		depID, err := st.enter(ref.Path, ref.Name, here)
		if err != nil {
			return err
		}
		needs = append(needs, depID)
	}

	st.mu.Lock()
	node.Declared = declared
	node.Needs = needs
	node.Unresolved = unresolved
	st.mu.Unlock()
	return nil
}

// hashFile computes the content hash of path exactly once per canonical
// path, no matter how many edges reach it.
func (st *builderState) hashFile(path, name string) (cas.Hash, int64, string, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return "", 0, "", errors.Wrap(errors.PhaseGraph, errors.KindIO, err, "canonicalize "+path)
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}

	st.mu.Lock()
	entry, ok := st.hashes[canonical]
	if !ok {
		entry = new(hashEntry)
		st.hashes[canonical] = entry
	}
	st.mu.Unlock()

	entry.once.Do(func() {
		b, err := os.ReadFile(canonical)
		if err != nil {
			entry.err = errors.PayloadUnreadable(name, canonical, err)
			return
		}
		entry.hash = cas.Sum(b)
		entry.size = int64(len(b))
	})
	if entry.err != nil {
		return "", 0, "", entry.err
	}
	return entry.hash, entry.size, canonical, nil
}
