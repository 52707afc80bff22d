package load

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/cas"
	dllerrors "github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/graph"
)

// recorder tracks backend activity across units.
type recorder struct {
	mu      sync.Mutex
	loads   []string
	unloads []string
}

func (r *recorder) loaded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, name)
}

func (r *recorder) unloaded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloads = append(r.unloads, name)
}

type fakeUnit struct {
	name string
	rec  *recorder
	syms map[string]uintptr
}

func (u *fakeUnit) Lookup(name string) (Symbol, error) {
	if addr, ok := u.syms[name]; ok {
		return Symbol{Addr: addr}, nil
	}
	return Symbol{}, dllerrors.SymbolNotFound(name, nil)
}

func (u *fakeUnit) Close(context.Context) error {
	u.rec.unloaded(u.name)
	return nil
}

// fakeNative opens units by payload basename and can be told to refuse
// one of them.
type fakeNative struct {
	rec    *recorder
	failOn string
	syms   map[string]map[string]uintptr
}

func (b *fakeNative) Open(_ context.Context, path string) (Unit, error) {
	name := filepath.Base(path)
	if name == b.failOn {
		return nil, dllerrors.New(dllerrors.PhaseLoad, dllerrors.KindIO).
			Node(name).Detail("refused by test backend").Build()
	}
	b.rec.loaded(name)
	return &fakeUnit{name: name, rec: b.rec, syms: b.syms[name]}, nil
}

// fakeFetcher serves blobs from memory, counts requests per hash, and
// can cancel a context partway through a load.
type fakeFetcher struct {
	blobs map[cas.Hash][]byte

	mu          sync.Mutex
	calls       int
	hits        map[cas.Hash]int
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeFetcher) FetchBlob(_ context.Context, _ string, hash cas.Hash) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	if f.hits == nil {
		f.hits = make(map[cas.Hash]int)
	}
	f.hits[hash]++
	if f.cancel != nil && f.calls > f.cancelAfter {
		f.cancel()
	}
	f.mu.Unlock()

	b, ok := f.blobs[hash]
	if !ok {
		return nil, dllerrors.NotFound(dllerrors.PhaseFetch, "blob", string(hash))
	}
	return b, nil
}

// chainManifest builds a linear dependency chain lib0 -> lib1 -> ... of
// the given length, lib0 being the root.
func chainManifest(t *testing.T, length int) (*bundle.Manifest, map[cas.Hash][]byte, []string) {
	t.Helper()
	blobs := make(map[cas.Hash][]byte)
	names := make([]string, length)
	nodes := make([]bundle.Node, length)

	var prev *bundle.Node
	for i := length - 1; i >= 0; i-- {
		names[i] = "lib" + string(rune('0'+i)) + ".so"
		var needs []graph.NodeID
		if prev != nil {
			needs = []graph.NodeID{prev.ID}
		}
		n, payload := testNode(names[i], linuxTriple, needs...)
		blobs[n.Hash] = payload
		nodes[i] = n
		prev = &nodes[i]
	}

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Nodes:       nodes,
		Roots:       []graph.NodeID{nodes[0].ID},
	}
	return m, blobs, names
}

func TestLoadOrderDepsFirst(t *testing.T) {
	m, blobs, names := chainManifest(t, 3)
	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}

	h, err := l.Load(context.Background(), "http://x/m.dllpack", m, descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Release(context.Background())

	want := []string{names[2], names[1], names[0]}
	if len(rec.loads) != len(want) {
		t.Fatalf("loaded %v, want %v", rec.loads, want)
	}
	for i := range want {
		if rec.loads[i] != want[i] {
			t.Errorf("load[%d] = %s, want %s", i, rec.loads[i], want[i])
		}
	}
}

func TestLoadFailureUnwindsReverse(t *testing.T) {
	m, blobs, names := chainManifest(t, 5)
	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		// Load order is lib4..lib0; lib2 is the third unit.
		Native:  &fakeNative{rec: rec, failOn: names[2]},
		WorkDir: t.TempDir(),
	}

	_, err := l.Load(context.Background(), "http://x/m.dllpack", m, descFor(t, linuxTriple, false))
	if err == nil {
		t.Fatal("expected load failure")
	}

	wantLoads := []string{names[4], names[3]}
	wantUnloads := []string{names[3], names[4]}
	if len(rec.loads) != 2 || rec.loads[0] != wantLoads[0] || rec.loads[1] != wantLoads[1] {
		t.Errorf("loads = %v, want %v", rec.loads, wantLoads)
	}
	if len(rec.unloads) != 2 || rec.unloads[0] != wantUnloads[0] || rec.unloads[1] != wantUnloads[1] {
		t.Errorf("unwind order = %v, want %v", rec.unloads, wantUnloads)
	}
}

func TestLoadCancellationUnwinds(t *testing.T) {
	m, blobs, _ := chainManifest(t, 4)
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	fetcher := &fakeFetcher{blobs: blobs, cancelAfter: 1, cancel: cancel}
	l := &Loader{
		Fetcher: fetcher,
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}

	_, err := l.Load(ctx, "http://x/m.dllpack", m, descFor(t, linuxTriple, false))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	// Whatever loaded before the cancellation is unloaded in reverse.
	if len(rec.loads) == 0 {
		t.Fatal("expected at least one unit loaded before cancellation")
	}
	if len(rec.unloads) != len(rec.loads) {
		t.Fatalf("loaded %v but unloaded %v", rec.loads, rec.unloads)
	}
	for i := range rec.loads {
		if rec.unloads[i] != rec.loads[len(rec.loads)-1-i] {
			t.Errorf("unwind order %v is not the reverse of load order %v", rec.unloads, rec.loads)
		}
	}
}

func TestLoadFetchesOnlySelectedVariant(t *testing.T) {
	nativeDep, nativeDepPayload := testNode("libhelper.so", linuxTriple)
	nativeRoot, nativeRootPayload := testNode("libmath.so", linuxTriple, nativeDep.ID)
	wasmRoot, wasmRootPayload := testNode("libmath.wasm", wasiTriple)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Variants: []bundle.VariantSet{{
			Name: "libmath.so",
			Platforms: map[string]graph.NodeID{
				linuxTriple: nativeRoot.ID,
				wasiTriple:  wasmRoot.ID,
			},
		}},
		Nodes: []bundle.Node{nativeRoot, nativeDep, wasmRoot},
		Roots: []graph.NodeID{nativeRoot.ID},
	}
	blobs := map[cas.Hash][]byte{
		nativeRoot.Hash: nativeRootPayload,
		nativeDep.Hash:  nativeDepPayload,
		wasmRoot.Hash:   wasmRootPayload,
	}

	rec := &recorder{}
	fetcher := &fakeFetcher{blobs: blobs}
	l := &Loader{
		Fetcher: fetcher,
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}

	// Native-capable host with a wasm engine available: the exact native
	// match wins, and the wasm twin's payload is never requested.
	h, err := l.Load(context.Background(), "http://x/m.dllpack", m, descFor(t, linuxTriple, true))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Release(context.Background())

	if fetcher.hits[wasmRoot.Hash] != 0 {
		t.Errorf("wasm variant blob fetched %d times, want 0", fetcher.hits[wasmRoot.Hash])
	}
	if fetcher.hits[nativeRoot.Hash] != 1 || fetcher.hits[nativeDep.Hash] != 1 {
		t.Errorf("native closure fetches = %d root, %d dep, want 1 each",
			fetcher.hits[nativeRoot.Hash], fetcher.hits[nativeDep.Hash])
	}
}

func TestHandleLookup(t *testing.T) {
	m, blobs, names := chainManifest(t, 2)
	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		Native: &fakeNative{rec: rec, syms: map[string]map[string]uintptr{
			names[0]: {"add": 0x1000},
		}},
		WorkDir: t.TempDir(),
	}

	h, err := l.Load(context.Background(), "http://x/m.dllpack", m, descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sym, err := h.Lookup("add")
	if err != nil {
		t.Fatalf("Lookup(add): %v", err)
	}
	if sym.Addr != 0x1000 {
		t.Errorf("Addr = %#x, want 0x1000", sym.Addr)
	}

	// Missing symbols are not fatal to the handle.
	if _, err := h.Lookup("missing"); !errors.Is(err, &dllerrors.Error{Phase: dllerrors.PhaseSymbol, Kind: dllerrors.KindSymbolNotFound}) {
		t.Errorf("got %v, want SymbolNotFound", err)
	}
	if _, err := h.Lookup("add"); err != nil {
		t.Errorf("handle unusable after a missed lookup: %v", err)
	}

	if err := h.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := h.Lookup("add"); !errors.Is(err, &dllerrors.Error{Phase: dllerrors.PhaseSymbol, Kind: dllerrors.KindClosed}) {
		t.Errorf("got %v, want Closed after Release", err)
	}
	if err := h.Release(context.Background()); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestReleaseUnloadsReverse(t *testing.T) {
	m, blobs, names := chainManifest(t, 3)
	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}

	h, err := l.Load(context.Background(), "http://x/m.dllpack", m, descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := h.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}

	want := []string{names[0], names[1], names[2]}
	if len(rec.unloads) != len(want) {
		t.Fatalf("unloads = %v, want %v", rec.unloads, want)
	}
	for i := range want {
		if rec.unloads[i] != want[i] {
			t.Errorf("unload[%d] = %s, want %s", i, rec.unloads[i], want[i])
		}
	}
}

func TestWasmNodeWithPackagedDepsRejected(t *testing.T) {
	dep, depPayload := testNode("libdep.so", linuxTriple)
	root, rootPayload := testNode("libroot.wasm", wasiTriple, dep.ID)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Nodes:       []bundle.Node{root, dep},
		Roots:       []graph.NodeID{root.ID},
	}
	blobs := map[cas.Hash][]byte{dep.Hash: depPayload, root.Hash: rootPayload}

	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}

	_, err := l.Load(context.Background(), "http://x/m.dllpack", m, descFor(t, wasiTriple, true))
	if !errors.Is(err, &dllerrors.Error{Phase: dllerrors.PhaseLoad, Kind: dllerrors.KindInvalidData}) {
		t.Fatalf("got %v, want InvalidData for wasm module with packaged deps", err)
	}
	// The dependency loaded before the root must have been unwound.
	if len(rec.unloads) != len(rec.loads) {
		t.Errorf("loads %v not matched by unloads %v", rec.loads, rec.unloads)
	}
}

func TestSessionsReuseHandle(t *testing.T) {
	m, blobs, _ := chainManifest(t, 2)
	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}
	pool := NewSessions(l, staticManifests{m})
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, "http://x/m.dllpack", descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	first := s1.Handle
	if err := s1.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	s2, err := pool.Acquire(ctx, "http://x/m.dllpack", descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if s2.Handle != first {
		t.Error("pool did not reuse the idle handle")
	}
	if len(rec.loads) != 2 {
		t.Errorf("units loaded %d times, want 2 (one bundle load)", len(rec.loads))
	}

	if err := s2.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := pool.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(rec.unloads) != 2 {
		t.Errorf("pool close unloaded %d units, want 2", len(rec.unloads))
	}

	if _, err := pool.Acquire(ctx, "http://x/m.dllpack", descFor(t, linuxTriple, false)); err == nil {
		t.Error("Acquire after Close should fail")
	}
}

func TestSessionsKeyIncludesCapabilities(t *testing.T) {
	m, blobs, _ := chainManifest(t, 1)
	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}
	pool := NewSessions(l, staticManifests{m})
	ctx := context.Background()
	defer pool.Close(ctx)

	// Same url and triple, different wasm capability: the idle handle
	// from the first descriptor must not serve the second.
	s1, err := pool.Acquire(ctx, "http://x/m.dllpack", descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first := s1.Handle
	if err := s1.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	s2, err := pool.Acquire(ctx, "http://x/m.dllpack", descFor(t, linuxTriple, true))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer s2.Release(ctx)
	if s2.Handle == first {
		t.Error("handle loaded without wasm capability was lent to a wasm-capable borrower")
	}
	if len(rec.loads) != 2 {
		t.Errorf("units loaded %d times, want 2 (one per capability set)", len(rec.loads))
	}
}

func TestSessionsConcurrentBorrowersGetDistinctHandles(t *testing.T) {
	m, blobs, _ := chainManifest(t, 1)
	rec := &recorder{}
	l := &Loader{
		Fetcher: &fakeFetcher{blobs: blobs},
		Native:  &fakeNative{rec: rec},
		WorkDir: t.TempDir(),
	}
	pool := NewSessions(l, staticManifests{m})
	ctx := context.Background()
	defer pool.Close(ctx)

	s1, err := pool.Acquire(ctx, "http://x/m.dllpack", descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s2, err := pool.Acquire(ctx, "http://x/m.dllpack", descFor(t, linuxTriple, false))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s1.Handle == s2.Handle {
		t.Error("two live borrowers share one handle")
	}
	s1.Release(ctx)
	s2.Release(ctx)
}

// staticManifests serves one pre-built manifest for every URL.
type staticManifests struct {
	m *bundle.Manifest
}

func (s staticManifests) FetchManifest(context.Context, string) (*bundle.Manifest, error) {
	return s.m, nil
}
