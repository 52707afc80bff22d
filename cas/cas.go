package cas

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/dllpack/dllpack-go/errors"
)

// Hash is the content address of a payload: a CIDv1 string using the
// raw multicodec and a sha2-256 multihash. Two payloads with equal Hash
// are byte-identical and interchangeable.
type Hash string

// Sum computes the content address of data.
func Sum(data []byte) Hash {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for unknown codes; SHA2_256 with
		// default length is unreachable.
		panic(err)
	}
	return Hash(cid.NewCidV1(cid.Raw, sum).String())
}

// Parse validates that s is a well-formed content address.
func Parse(s string) (Hash, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return "", errors.Wrap(errors.PhaseManifest, errors.KindInvalidData, err, "malformed content hash "+s)
	}
	return Hash(c.String()), nil
}

// Verify re-hashes data and compares against want.
func Verify(data []byte, want Hash) error {
	if got := Sum(data); got != want {
		return errors.Integrity(errors.PhaseFetch, string(want), string(got))
	}
	return nil
}
