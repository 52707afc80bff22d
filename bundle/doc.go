// Package bundle defines the .dllpack artifact layout: a versioned
// manifest plus a content-addressed blob store, distributable as one
// directory tree and addressable by the manifest's URL.
//
// The manifest is canonical JSON, meaning decode followed by re-encode
// is byte-identical, because the bundle itself may be content-addressed
// by consumers. It carries the format version ("1.0.0"), the dependency
// graph's nodes and edges, variant sets grouping one logical library's
// per-platform builds, and the root node ids. Readers under the same
// major version ignore unknown fields.
//
// Blobs live at "blobs/<hash>" next to the manifest; the location of a
// payload is a pure function of its content hash, so different bundles
// referencing the same library share cache entries.
//
// This package is serialization only. The packer writes it, the fetcher
// reads it; neither business logic nor I/O lives here beyond the layout
// contract.
package bundle
