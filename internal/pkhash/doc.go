// Package pkhash implements the primary-key hash table of a segment.
//
// The table is a fixed-capacity open-addressing hash table that maps a 64-bit
// or 128-bit key to a segment-local document id. It is sized once from the
// document count (see CapacityFor), filled by a single builder and then shared
// read-only. The backing buffer is the on-disk format, so a persisted table can
// be reopened without copying:
//
//	header: bucket_count u64 LE | doc_count u64 LE
//	slot:   key (u64 or u128) LE | doc_id u32 LE
//
// Empty slots carry doc id 0xFFFFFFFF. Lookups probe linearly starting at
// xxhash(key) % bucket_count; inserting an existing key overwrites its doc id,
// so the last insert for a key wins.
package pkhash
