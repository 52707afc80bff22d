package fetch

import (
	"context"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
)

// maxManifestSize bounds manifest downloads; a manifest describes graph
// topology, not payloads, and anything near this size is malformed.
const maxManifestSize = 16 << 20

// Client retrieves bundle manifests and blobs over HTTP, keeping a
// local content-addressed cache so dependencies shared across bundles
// download once.
type Client struct {
	// HTTP is the transport; http.DefaultClient when nil.
	HTTP *http.Client

	// Cache holds verified blobs keyed by hash. Bytes enter the cache
	// only after an independent hash check.
	Cache *cas.FSStore

	mu       sync.Mutex
	inflight map[cas.Hash]*sync.Mutex
}

// NewClient creates a fetch client caching blobs under cacheDir.
func NewClient(cacheDir string) (*Client, error) {
	cache, err := cas.NewFSStore(cacheDir)
	if err != nil {
		return nil, err
	}
	return &Client{Cache: cache, inflight: make(map[cas.Hash]*sync.Mutex)}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// FetchManifest downloads and parses the bundle manifest at url.
func (c *Client) FetchManifest(ctx context.Context, url string) (*bundle.Manifest, error) {
	Logger().Debug("fetching manifest", zap.String("url", url))

	data, err := c.download(ctx, url, maxManifestSize)
	if err != nil {
		return nil, err
	}
	return bundle.Decode(data)
}

// FetchBlob returns the payload for hash, from cache when present,
// otherwise from the bundle's content-addressed blob location next to
// manifestURL. Downloaded bytes are re-hashed before use; a mismatch is
// retried once against the same URL for transient corruption, then
// surfaced as an integrity error. Corrupt bytes are never cached.
func (c *Client) FetchBlob(ctx context.Context, manifestURL string, hash cas.Hash) ([]byte, error) {
	// One fetch per hash at a time; latecomers hit the cache.
	lock := c.hashLock(hash)
	lock.Lock()
	defer lock.Unlock()

	if c.Cache.Has(hash) {
		b, err := c.Cache.Get(ctx, hash)
		if err == nil {
			Logger().Debug("blob cache hit", zap.String("hash", string(hash)))
			return b, nil
		}
		// A corrupt cache entry was just evicted; fall through to
		// re-download.
		Logger().Warn("cached blob failed verification, refetching",
			zap.String("hash", string(hash)), zap.Error(err))
	}

	url, err := bundle.BlobURL(manifestURL, hash)
	if err != nil {
		return nil, err
	}

	b, err := c.downloadBlob(ctx, url, hash)
	if err != nil {
		return nil, err
	}

	if _, err := c.Cache.Put(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// downloadBlob fetches and verifies one blob, retrying a hash mismatch
// once.
func (c *Client) downloadBlob(ctx context.Context, url string, hash cas.Hash) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := c.download(ctx, url, 0)
		if err != nil {
			return nil, err
		}

		if err := cas.Verify(b, hash); err != nil {
			Logger().Warn("blob integrity failure",
				zap.String("url", url),
				zap.String("hash", string(hash)),
				zap.Int("attempt", attempt+1))
			lastErr = err
			continue
		}
		return b, nil
	}
	return nil, lastErr
}

func (c *Client) download(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFetch, errors.KindInvalidData, err, "build request for "+url)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "GET "+url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.PhaseFetch, errors.KindIO).
			Detail("GET %s: %s", url, resp.Status).
			Build()
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFetch, errors.KindIO, err, "read body of "+url)
	}
	return b, nil
}

func (c *Client) hashLock(hash cas.Hash) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		c.inflight = make(map[cas.Hash]*sync.Mutex)
	}
	lock, ok := c.inflight[hash]
	if !ok {
		lock = new(sync.Mutex)
		c.inflight[hash] = lock
	}
	return lock
}
