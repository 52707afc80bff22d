// Package graph discovers and orders the dependency closure of compiled
// binaries.
//
// A Builder applies a platform inspector to one or more root binaries
// and to every dependency it finds, producing a directed acyclic graph.
// Nodes are identified by the content hash of their payload, not by
// name or path: the same library reached through two different
// filesystem paths is one node, and a diamond dependency is read and
// hashed exactly once. Names the inspector cannot map to a file are
// recorded as unresolved terminals: the bundle does not ship the
// operating system.
//
// A true back-edge (a node depending on its own ancestor in the current
// traversal path) fails with a CycleError naming the cycle. Native
// dynamic-link graphs are acyclic by platform contract, so this means
// corrupt input, never a condition to break silently. Diamond
// reconvergence is not a cycle and merges cleanly.
//
// TopoOrder produces the load order: every dependency strictly before
// its dependents, deterministic for equal graphs.
package graph
