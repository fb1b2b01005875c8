// Package reclaim builds the document id mapping of a segment merge.
//
// A Map is a total function from old global doc ids (BaseDocID + local id of
// the source segment) to new ids in the merged segment. Deleted documents map
// to model.InvalidDocID. Live documents get the dense range [0, LiveDocs()).
//
// In the default mode new ids follow old ids, so the mapping is monotone over
// live documents. BuildSorted instead assigns new ids in a caller-defined total
// order, which is used when the merge output is physically sorted by a field.
//
// A Map is immutable after construction and safe for concurrent reads.
package reclaim
