// Package cache implements the namespaced, TTL-aware in-memory cache manager.
//
// Entries are addressed by a derived key built from a namespace, a logical
// key and an optional parameter structure. Expiry is lazy: an entry past its
// TTL reads as a miss and is reclaimed by a later write, clear or Purge.
// A Manager may mirror its writes into a persistent store.Store; failures in
// that tier are logged and counted but never reach the caller.
package cache
