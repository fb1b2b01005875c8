// Package merge runs merge plans: it combines a set of immutable segments
// into one new segment.
//
// A merge builds the reclaim map of the inputs, copies the attribute columns
// of live documents in new-id order, replays pending patches through
// independent per-column work items, rebuilds the primary-key table and
// persists the reclaim map. Output is written into a temporary directory and
// published with a single rename. Any failure removes the temporary directory;
// input segments are never modified.
package merge
