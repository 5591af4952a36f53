// Package patcher connects the bus, the registry, and the rule engine.
//
// A Patcher reacts to ports appearing and vanishing. On appearance the
// port is admitted into the registry and every candidate pairing with
// the already-tracked clients is evaluated; permitted pairs become link
// requests against the bus. On vanish the address is withdrawn. At
// startup, Run populates the registry from a full enumeration and then
// performs the three-pass pairwise sweep.
//
// # Thresholds
//
// Same-kind pairings (hardware with hardware, software with software)
// require a specific rule match; accidental routing loops between
// similar devices are otherwise one wildcard away. Cross-kind pairings
// only require the default wildcard rule, matching the common case of
// "any software wants any hardware".
//
// # Concurrency
//
// Run processes bus notifications strictly in delivery order on a single
// goroutine. The console may trigger sweeps and manual patches
// concurrently; all shared state is guarded.
package patcher
