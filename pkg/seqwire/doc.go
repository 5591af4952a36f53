// Package seqwire implements the wire protocol for talking to a
// sequencer daemon over a stream socket.
//
// # Framing
//
// Every message is a single CBOR map preceded by a 4-byte big-endian
// length prefix. Frames larger than 64 KB are rejected on both sides.
//
// # Messages
//
// Messages use integer map keys. Key 1 is the message type, key 2 the
// request identifier and key 3 the type-specific payload. Requests
// carry a non-zero identifier that the matching response echoes back.
// Identifier 0 marks unsolicited messages, which is how the daemon
// pushes port events to subscribed clients.
//
// The client sends Hello once after connecting and waits for HelloOK,
// which assigns its client number on the bus. After that, Enumerate,
// Connect, Subscribe and ResolveName may be issued in any order and
// concurrently from multiple goroutines.
//
// # Bus adapter
//
// Client implements seq.Bus, so the rest of the daemon does not care
// whether it is talking to a live sequencer or a simulated one.
package seqwire
