// Package load turns a fetched bundle into live code.
//
// Resolve picks one variant per bundle root for a platform descriptor,
// preferring an exact triple match and falling back to a wasm variant
// when the host can execute wasm. Loader fetches the selected closure
// in dependency order and opens each unit through a backend: the
// native backend wraps the platform dynamic linker (dlopen on unix,
// LoadLibraryEx on windows), the wasm backend instantiates core
// modules on a shared wazero runtime with an on-disk compilation
// cache.
//
// The returned Handle resolves symbols against the loaded roots and
// unloads everything in strict reverse load order on Release. A
// failure or cancellation mid-load takes the same reverse unwind
// before the error surfaces, so no half-loaded state escapes.
//
// Sessions pools handles per (bundle URL, triple) for callers that
// load the same bundle repeatedly.
package load
