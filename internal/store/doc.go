// Package store is the typed gateway over the graph's key-value backend.
//
// Nodes are keyed by soul and stored whole. The gateway offers:
//   - Read: point lookup, absent is (nil, nil)
//   - Write: read-merge-write of a whole graph in one transaction, with
//     the CRDT merge deciding the applied diff
//   - Get: a Read packaged as a reply message
//   - EachThingID / EachThingIDSeq: ordered prefix scans over thing souls
//     inside one read transaction, released unconditionally
//
// # Backends
//
//   - sqlite (default): WAL mode, concurrent readers alongside one writer,
//     mmap_size set from the configured map size
//   - bolt: bbolt file with InitialMmapSize set from the map size, so
//     long read transactions never block a remap
//
// A missing soul is never an error. Corrupt records are assumed not to
// exist (store-level integrity).
package store
