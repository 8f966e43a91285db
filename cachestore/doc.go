// Component for caching serialized entities with a per-entry TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// This is the raw key/value layer: TTL class selection (base versus popular)
// happens one level up, in the cachemgr package. An entry whose TTL has
// elapsed is treated as absent even if still physically present; reads evict
// such entries lazily.
package cachestore
