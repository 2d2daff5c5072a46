// Package kvcache implements a persistent, in-memory-backed key/value cache
// store that durably mirrors its contents to a local directory.
//
// A [Store] remembers arbitrary binary values keyed by string identifiers
// across process restarts. Reads and writes hit an in-memory map; a deferred,
// coalesced flush batches bursts of mutations into one atomic catalog
// rewrite. Values are either inlined in the catalog file ([ModeSingleFile])
// or externalized to per-entry sidecar files ([ModeMultiFile]).
//
// Store is not safe for use by more than one process against the same
// directory, and is not crash-safe against a torn write inside a sidecar
// file — only the catalog rename is atomic.
package kvcache
