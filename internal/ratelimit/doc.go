// Package ratelimit caps how many times a client may do something inside a
// sliding window of whole seconds.
//
// SlidingWindow keeps the admitted timestamps for every identifier in
// memory, guarded by one mutex. It is not shared between instances; when
// several instances sit behind one load balancer use RedisWindow, which
// keeps the same semantics in a redis sorted set per identifier.
//
// Rejected attempts are never recorded, so a client that keeps hammering
// while limited does not push its own recovery further out.
package ratelimit
