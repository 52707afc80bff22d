package cas

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dllpack/dllpack-go/errors"
)

// Store maps content hashes to payload bytes. Entries are write-once: a
// hash's bytes never change, so a second Put of a present hash is a
// no-op. Implementations must be safe for concurrent use.
type Store interface {
	// Put stores data under its own content hash and returns that hash.
	Put(ctx context.Context, data []byte) (Hash, error)

	// Get returns the payload for hash, or a not-found error.
	Get(ctx context.Context, hash Hash) ([]byte, error)

	// Has reports whether hash is present.
	Has(hash Hash) bool
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[Hash][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[Hash][]byte)}
}

func (s *MemStore) Put(ctx context.Context, data []byte) (Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := Sum(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[h]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.blobs[h] = cp
	}
	return h, nil
}

func (s *MemStore) Get(ctx context.Context, hash Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	b, ok := s.blobs[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseFetch, "blob", string(hash))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (s *MemStore) Has(hash Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok
}

// Len returns the number of distinct blobs held.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// FSStore is a Store backed by one file per hash under a root directory.
// Writes go through a temp file plus atomic rename, so concurrent
// writers of the same hash cannot leave a torn entry. Reads re-verify
// the payload against its hash before serving: bytes this store has not
// independently verified are never returned, and a corrupt entry is
// evicted on detection.
type FSStore struct {
	root string

	mu       sync.Mutex
	inflight map[Hash]*putEntry
}

// putEntry carries one write's outcome to every caller that raced on
// the same hash.
type putEntry struct {
	once sync.Once
	err  error
}

// NewFSStore opens (creating if needed) a blob store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "create blob store root")
	}
	return &FSStore{root: dir, inflight: make(map[Hash]*putEntry)}, nil
}

// Root returns the store's root directory.
func (s *FSStore) Root() string { return s.root }

// Path returns where hash's payload lives on disk.
func (s *FSStore) Path(hash Hash) string {
	return filepath.Join(s.root, string(hash))
}

func (s *FSStore) Put(ctx context.Context, data []byte) (Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := Sum(data)
	if s.Has(h) {
		return h, nil
	}

	// At most one writer per hash; losers of the race wait on the
	// winner's Once and share its outcome. The entry leaves the map
	// when the write finishes, so a failed write is retried by the
	// next caller rather than poisoning the hash forever.
	s.mu.Lock()
	e, ok := s.inflight[h]
	if !ok {
		e = new(putEntry)
		s.inflight[h] = e
	}
	s.mu.Unlock()

	e.once.Do(func() {
		e.err = s.writeBlob(h, data)
		s.mu.Lock()
		delete(s.inflight, h)
		s.mu.Unlock()
	})
	if e.err != nil {
		return "", e.err
	}
	return h, nil
}

func (s *FSStore) writeBlob(h Hash, data []byte) error {
	tmp, err := os.CreateTemp(s.root, "put-*")
	if err != nil {
		return errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "create temp blob")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "write blob "+string(h))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "close blob "+string(h))
	}
	if err := os.Rename(tmpName, s.Path(h)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "commit blob "+string(h))
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, hash Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.Path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseFetch, "blob", string(hash))
		}
		return nil, errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "read blob "+string(hash))
	}

	if err := Verify(b, hash); err != nil {
		// Evict: a cached entry that fails verification must never be
		// served again.
		os.Remove(s.Path(hash))
		return nil, err
	}
	return b, nil
}

func (s *FSStore) Has(hash Hash) bool {
	st, err := os.Stat(s.Path(hash))
	return err == nil && st.Mode().IsRegular()
}
