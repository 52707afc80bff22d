package load

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/errors"
	"github.com/dllpack/dllpack-go/platform"
)

// ManifestFetcher retrieves and parses a bundle manifest by URL.
// *fetch.Client satisfies it.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, url string) (*bundle.Manifest, error)
}

// sessionKey identifies one way of loading one bundle. Capability flags
// are part of the key: a handle loaded native-only must not be lent to a
// borrower that asked for wasm, and vice versa.
type sessionKey struct {
	url        string
	triple     string
	nativeLoad bool
	wasm       bool
}

func keyFor(url string, desc platform.Descriptor) sessionKey {
	return sessionKey{
		url:        url,
		triple:     desc.Target.String(),
		nativeLoad: desc.NativeLoad,
		wasm:       desc.WASM,
	}
}

// Sessions pools live handles per (bundle URL, target triple) so
// sequential borrowers reuse a loaded bundle instead of reloading it.
// A handle is never lent to two borrowers at once.
type Sessions struct {
	Loader    *Loader
	Manifests ManifestFetcher

	mu        sync.Mutex
	manifests map[string]*bundle.Manifest
	idle      map[sessionKey][]*Handle
	closed    bool
}

// NewSessions builds an empty pool on top of a loader.
func NewSessions(l *Loader, mf ManifestFetcher) *Sessions {
	return &Sessions{
		Loader:    l,
		Manifests: mf,
		manifests: make(map[string]*bundle.Manifest),
		idle:      make(map[sessionKey][]*Handle),
	}
}

// Session is a borrowed handle. Release returns it to the pool; the
// underlying units stay loaded for the next borrower.
type Session struct {
	Handle *Handle

	pool *Sessions
	key  sessionKey
	done bool
}

// Acquire lends an idle handle for the bundle and platform, loading a
// fresh one when the pool has none. Concurrent borrowers each get their
// own handle.
func (s *Sessions) Acquire(ctx context.Context, url string, desc platform.Descriptor) (*Session, error) {
	key := keyFor(url, desc)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.Closed(errors.PhaseLoad, "session pool")
	}
	if handles := s.idle[key]; len(handles) > 0 {
		h := handles[len(handles)-1]
		s.idle[key] = handles[:len(handles)-1]
		s.mu.Unlock()
		Logger().Debug("reusing pooled handle", zap.String("url", url), zap.String("triple", key.triple))
		return &Session{Handle: h, pool: s, key: key}, nil
	}
	m := s.manifests[url]
	s.mu.Unlock()

	if m == nil {
		fetched, err := s.Manifests.FetchManifest(ctx, url)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		// Another borrower may have won the fetch race; either copy
		// decodes to the same manifest.
		if cached := s.manifests[url]; cached != nil {
			m = cached
		} else {
			s.manifests[url] = fetched
			m = fetched
		}
		s.mu.Unlock()
	}

	h, err := s.Loader.Load(ctx, url, m, desc)
	if err != nil {
		return nil, err
	}
	return &Session{Handle: h, pool: s, key: key}, nil
}

// Release puts the session's handle back in the pool. Idempotent. If
// the pool has been closed in the meantime the handle is released for
// real.
func (g *Session) Release(ctx context.Context) error {
	if g.done {
		return nil
	}
	g.done = true

	g.pool.mu.Lock()
	if g.pool.closed {
		g.pool.mu.Unlock()
		return g.Handle.Release(ctx)
	}
	g.pool.idle[g.key] = append(g.pool.idle[g.key], g.Handle)
	g.pool.mu.Unlock()
	return nil
}

// Close releases every idle handle and rejects further Acquires.
// Handles still borrowed are released when their sessions return.
func (s *Sessions) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	idle := s.idle
	s.idle = nil
	s.manifests = nil
	s.mu.Unlock()

	var firstErr error
	for _, handles := range idle {
		for _, h := range handles {
			if err := h.Release(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
