package bundle

import (
	"net/url"
	"path"

	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
)

// BlobPath returns the content-addressed path of a payload relative to
// the bundle root: "blobs/<hash>". The mapping is deterministic so
// blobs cache independently of the manifests referencing them.
func BlobPath(hash cas.Hash) string {
	return path.Join(BlobDir, string(hash))
}

// BlobURL derives a blob's URL from the manifest's URL. The blob store
// sits next to the manifest, so the manifest's last path segment is
// replaced with the blob path.
func BlobURL(manifestURL string, hash cas.Hash) (string, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return "", errors.Wrap(errors.PhaseFetch, errors.KindInvalidData, err, "parse bundle URL")
	}
	base := path.Dir(u.Path)
	u.Path = path.Join(base, BlobPath(hash))
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
