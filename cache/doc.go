/*
Package cache implements the response cache component of the coordination
core: a keyed, TTL-bounded store that guarantees at most one producer runs
per key at any time.

# Single-flight

GetOrCompute uses golang.org/x/sync/singleflight so that N concurrent
callers for the same key observe exactly one producer invocation and share
its outcome, success or failure. On failure nothing is stored, so the next
caller gets a fresh attempt.

# Eviction

Eviction is LRU under a configured byte budget (Config.ByteBudget), using a
doubly-linked list (container/list) for O(1) promotion and eviction. TTL
expiry is checked proactively on every Get.
*/
package cache
