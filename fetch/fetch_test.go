package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/cas"
	dllerrors "github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/graph"
)

// testBundle serves one manifest and one blob, counting blob hits.
type testBundle struct {
	manifest []byte
	blob     []byte
	blobHash cas.Hash
	blobHits atomic.Int32

	// corruptFirst serves a damaged first response for the blob.
	corruptFirst bool
	// corruptAlways damages every blob response.
	corruptAlways bool
}

func newTestBundle(t *testing.T) *testBundle {
	t.Helper()
	blob := []byte("native library payload bytes")
	h := cas.Sum(blob)

	m := &bundle.Manifest{
		SpecVersion: bundle.SpecVersion,
		Nodes: []bundle.Node{{
			ID:     graph.NodeID(h),
			Name:   "libadder.so",
			Triple: "x86_64-unknown-linux-gnu",
			Hash:   h,
			Size:   int64(len(blob)),
		}},
		Roots: []graph.NodeID{graph.NodeID(h)},
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return &testBundle{manifest: data, blob: blob, blobHash: h}
}

func (tb *testBundle) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pkg/adder.dllpack":
			w.Write(tb.manifest)
		case "/pkg/" + bundle.BlobPath(tb.blobHash):
			n := tb.blobHits.Add(1)
			out := tb.blob
			if tb.corruptAlways || (tb.corruptFirst && n == 1) {
				out = append([]byte{0xff}, tb.blob[1:]...)
			}
			w.Write(out)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestFetchManifest(t *testing.T) {
	tb := newTestBundle(t)
	srv := httptest.NewServer(tb.handler())
	defer srv.Close()

	c, err := NewClient(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	m, err := c.FetchManifest(context.Background(), srv.URL+"/pkg/adder.dllpack")
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if len(m.Nodes) != 1 || m.Nodes[0].Hash != tb.blobHash {
		t.Errorf("unexpected manifest: %+v", m)
	}
}

func TestFetchManifestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := NewClient(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.FetchManifest(context.Background(), srv.URL+"/missing.dllpack"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFetchBlobCaches(t *testing.T) {
	tb := newTestBundle(t)
	srv := httptest.NewServer(tb.handler())
	defer srv.Close()

	c, err := NewClient(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	manifestURL := srv.URL + "/pkg/adder.dllpack"

	b1, err := c.FetchBlob(ctx, manifestURL, tb.blobHash)
	if err != nil {
		t.Fatalf("first FetchBlob: %v", err)
	}
	if !bytes.Equal(b1, tb.blob) {
		t.Error("payload damaged in transit")
	}

	b2, err := c.FetchBlob(ctx, manifestURL, tb.blobHash)
	if err != nil {
		t.Fatalf("second FetchBlob: %v", err)
	}
	if !bytes.Equal(b2, tb.blob) {
		t.Error("cached payload damaged")
	}

	if hits := tb.blobHits.Load(); hits != 1 {
		t.Errorf("blob downloaded %d times, want 1 (cache must serve the second)", hits)
	}
}

func TestFetchBlobRetriesTransientCorruption(t *testing.T) {
	tb := newTestBundle(t)
	tb.corruptFirst = true
	srv := httptest.NewServer(tb.handler())
	defer srv.Close()

	c, err := NewClient(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	b, err := c.FetchBlob(context.Background(), srv.URL+"/pkg/adder.dllpack", tb.blobHash)
	if err != nil {
		t.Fatalf("FetchBlob with one corrupt response: %v", err)
	}
	if !bytes.Equal(b, tb.blob) {
		t.Error("retry returned wrong bytes")
	}
	if hits := tb.blobHits.Load(); hits != 2 {
		t.Errorf("blob requested %d times, want 2 (one retry)", hits)
	}
}

func TestFetchBlobPersistentCorruption(t *testing.T) {
	tb := newTestBundle(t)
	tb.corruptAlways = true
	srv := httptest.NewServer(tb.handler())
	defer srv.Close()

	c, err := NewClient(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.FetchBlob(context.Background(), srv.URL+"/pkg/adder.dllpack", tb.blobHash)
	if !errors.Is(err, &dllerrors.Error{Phase: dllerrors.PhaseFetch, Kind: dllerrors.KindIntegrity}) {
		t.Fatalf("got %v, want IntegrityError", err)
	}
	if hits := tb.blobHits.Load(); hits != 2 {
		t.Errorf("blob requested %d times, want exactly 2", hits)
	}

	// Corrupt bytes must never enter the cache.
	if c.Cache.Has(tb.blobHash) {
		t.Error("corrupt blob was cached")
	}
}

func TestFetchBlobCancellation(t *testing.T) {
	tb := newTestBundle(t)
	srv := httptest.NewServer(tb.handler())
	defer srv.Close()

	c, err := NewClient(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.FetchBlob(ctx, srv.URL+"/pkg/adder.dllpack", tb.blobHash)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
