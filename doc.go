// Package dllpack packages compiled dynamic libraries together with
// their transitive dependencies into a single URL-addressable bundle,
// and loads such bundles back at runtime.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	dllpack/             Root package with the high-level Load API
//	├── inspect/         Binary dependency inspection (ELF, Mach-O, PE, wasm)
//	├── graph/           Dependency graph discovery and topological ordering
//	├── cas/             Content addressing and blob stores (CID, sha2-256)
//	├── bundle/          Canonical .dllpack manifest encoding and layout
//	├── pack/            Packaging graphs into on-disk bundles
//	├── fetch/           Verified manifest and blob retrieval over HTTP
//	├── load/            Variant resolution and runtime loading
//	├── platform/        Target triples and host platform descriptors
//	└── errors/          Structured error types shared by all phases
//
// # Quick Start
//
// Load a published bundle and call into it:
//
//	handle, err := dllpack.Load(ctx, "https://pkgs.example.com/adder.dllpack", workDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer handle.Release(ctx)
//
//	sym, err := handle.Lookup("add")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// A native bundle yields symbol addresses for the platform dynamic
// linker; a wasm bundle yields callable exported functions. When no
// native variant exists for the host, Load falls back to the bundle's
// wasm32-wasip1 variant automatically.
//
// # Packaging
//
// Bundles are produced from a built library with graph.Builder and
// pack.Packer:
//
//	insp, _ := inspect.ForHost()
//	b := graph.Builder{Inspector: insp, Triple: platform.Host()}
//	g, _ := b.Build(ctx, graph.Root{Path: "libadder.so"})
//
//	p := pack.Packer{Store: cas.NewMemStore()}
//	m, _ := p.Pack(ctx, pack.Variant{Name: "libadder.so", Graph: g})
//	pack.WriteBundle(ctx, outDir, m, p.Store)
//
// Every payload is content addressed: blobs are named by the CIDv1 of
// their bytes, verified on every read, and shared between nodes and
// bundles that carry identical content.
package dllpack
