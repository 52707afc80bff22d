// Package pack turns dependency graphs into distributable bundles.
//
// A Packer consumes one graph per platform variant of a logical
// library, deduplicates payloads by content hash into a blob store, and
// emits a canonical bundle manifest. Variants sharing a logical name
// become one VariantSet so the runtime resolver can pick a platform
// build without re-walking the graph.
//
// Payloads are re-read and re-verified at pack time: a source file that
// vanished or changed between discovery and packing fails the whole
// pack loudly. No partial manifest is ever published: WriteBundle
// commits blobs first and the manifest last, atomically.
package pack
