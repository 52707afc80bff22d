// Package fetch retrieves bundle manifests and blobs from their URLs.
//
// Blobs are cached locally keyed by content hash, so two bundles
// sharing a dependency download its payload once. The cache never holds
// bytes it has not independently verified: every download is re-hashed
// against the requested hash, a mismatch is retried once for transient
// corruption and then surfaced as an integrity error, and corrupt bytes
// are discarded, never cached or served.
//
// Eviction is policy, not correctness, and is left to the embedding
// application (the cache is a plain directory of content-addressed
// files; deleting any entry is always safe).
package fetch
