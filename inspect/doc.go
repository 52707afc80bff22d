// Package inspect lists the declared dependencies of compiled binaries.
//
// One Inspector implementation exists per binary format: ELF dynamic
// sections, Mach-O load commands, PE import tables, and the import
// section of core WebAssembly modules. All of them read only the
// binary's own headers; the binary is never executed.
//
// Inspectors are selected through For(target): wasm inspection is pure
// byte parsing and available everywhere, while native formats need the
// host's own library search semantics and are only available when the
// host OS matches the target. A missing capability is a first-class
// InspectionUnsupported error; the documented fallback for such build
// hosts is to ship a WebAssembly-only variant.
//
// Dependencies the inspector cannot or should not map to a file (libc,
// the dynamic loader, well-known system DLLs, wasm host namespaces) are
// returned unresolved. Unresolved is a legal terminal state: the bundle
// does not ship the operating system.
package inspect
