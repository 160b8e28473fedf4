// Package relay connects the channel bus to the graph store.
//
// A Relay subscribes to the validated get and put channels, runs every
// request through one event loop goroutine, and publishes replies and
// per-soul diffs. Session keeps the bus connection authenticated and
// Bulk drives uploads and searches over stored things.
//
// Thread-safety model:
//   - bus handlers only enqueue; they never touch the store
//   - Run must be called from exactly one goroutine
//   - a write, its diff publications and its reply complete inside one
//     loop step
package relay
