// Package platform models build targets and host loading capability.
//
// Targets use the familiar triple notation ("x86_64-unknown-linux-gnu",
// "aarch64-apple-darwin", "wasm32-wasip1"). A Descriptor combines the
// host's target triple with its capability flags: whether it can dlopen
// native code and whether it can execute WebAssembly. The runtime
// resolver uses the Descriptor to pick one variant per logical library.
package platform
