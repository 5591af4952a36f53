// Package seq defines the sequencer bus boundary.
//
// The daemon never drives a sequencer directly; it sees the bus through
// the Bus interface: a snapshot enumeration, an ordered notification
// stream, fire-and-forget link requests, and client name resolution.
// Backends live in pkg/seqwire (socket client) and pkg/seq/seqtest
// (in-memory, scriptable).
//
// # Addresses
//
// Every port is identified by an Address (client, port). Client 0 is
// owned by the bus itself; its timer and announce ports never take part
// in patching.
//
// # Ordering
//
// Events returns a channel that preserves bus delivery order. Consumers
// that read it from a single goroutine observe appearances and
// disappearances exactly as the bus emitted them.
package seq
