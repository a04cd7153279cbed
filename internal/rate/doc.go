// Package rate provides the Redis-backed rolling-window counter primitive
// underneath the authentication rate limit tiers.
//
// # Window semantics
//
// Rolling-window counters: INCR + EXPIRE composed in one MULTI/EXEC so the
// TTL can never be lost between the two commands. Every increment refreshes
// the window. Once the consumed count exceeds the limit the identifier is
// blocked under a companion key until the block TTL lapses.
//
// # Degraded mode
//
// MemoryCounter mirrors the same semantics in process-local memory for
// limiters that fail open when Redis is unreachable. Accuracy degrades to
// per-process; that tradeoff belongs to the caller, not to this package.
package rate
