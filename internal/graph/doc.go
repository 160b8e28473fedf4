// Package graph defines the property graph types exchanged by the relay.
//
// This package contains type definitions and their wire codecs only. Every
// other internal package imports graph; graph imports nothing internal.
//
// Key design constraints:
//   - A Soul is a content address; two nodes never share one
//   - Node values are a sealed tagged variant (String, Number, Bool, Null, Link)
//   - Every field carries a state (logical timestamp) used by the CRDT merge
//   - Messages are ephemeral; only Nodes are ever persisted
package graph
