// Package cas provides content-addressed storage for bundle payloads.
//
// Payloads are identified by a CIDv1 (raw codec, sha2-256 multihash) of
// their bytes. Identity by content rather than by name or path is what
// lets the packer deduplicate a library reachable through several
// filesystem paths, and lets independent bundles share cached blobs.
//
// Stores are write-once per hash: bytes under a hash never change, so
// re-putting a present hash is a no-op, concurrent readers need no
// coordination, and at most one writer runs per hash key. The
// filesystem store re-verifies bytes against their hash on every read
// and evicts entries that fail, so corruption on disk surfaces as an
// integrity error instead of corrupt payloads.
package cas
