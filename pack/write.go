package pack

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dllpack/dllpack-go/bundle"
	"github.com/dllpack/dllpack-go/cas"
	"github.com/dllpack/dllpack-go/errors"
)

// WriteBundle materializes a packed manifest as a bundle directory:
// every referenced blob under dir/blobs, then the manifest itself.
// Blobs are written first and the manifest committed last via an atomic
// rename, so a crashed pack never leaves a publishable manifest
// pointing at missing blobs.
func WriteBundle(ctx context.Context, dir string, m *bundle.Manifest, src cas.Store) error {
	blobs, err := cas.NewFSStore(filepath.Join(dir, bundle.BlobDir))
	if err != nil {
		return err
	}

	for i := range m.Nodes {
		n := &m.Nodes[i]
		if blobs.Has(n.Hash) {
			continue
		}
		b, err := src.Get(ctx, n.Hash)
		if err != nil {
			return errors.New(errors.PhasePack, errors.KindPayloadUnreadable).
				Node(string(n.ID)).
				Hash(string(n.Hash)).
				Detail("blob missing from pack store").
				Cause(err).
				Build()
		}
		if _, err := blobs.Put(ctx, b); err != nil {
			return err
		}
	}

	data, err := m.Encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "manifest-*")
	if err != nil {
		return errors.Wrap(errors.PhasePack, errors.KindIO, err, "create manifest temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.PhasePack, errors.KindIO, err, "write manifest")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.PhasePack, errors.KindIO, err, "close manifest")
	}
	if err := os.Rename(tmpName, filepath.Join(dir, bundle.ManifestName)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.PhasePack, errors.KindIO, err, "commit manifest")
	}
	return nil
}
