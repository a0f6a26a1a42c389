// Package threadcache provides a TTL-bounded, invalidate-on-write snapshot
// of the relay's thread list so repeated client polls do not hammer the
// relay. A stale snapshot is served as a fallback when the relay is
// unreachable, tagged so clients can surface it.
package threadcache
