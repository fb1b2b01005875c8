// Package deletion tracks deleted documents per segment.
//
// A [Bitmap] holds the deleted local doc ids of one segment (roaring bitmap).
// A [Map] holds the bitmaps of many segments and implements [Source], the
// capability the reclaim map builder consults to decide which documents
// survive a merge.
//
// Bitmaps are persisted in the segment directory as the "deletionmap" file:
// a checksummed frame around the roaring portable serialization.
package deletion
