// Package model defines core types used throughout segmerge.
//
// # Identity Types
//
//   - SegmentID: Unique, monotonically assigned segment identifier (uint64)
//   - LocalDocID: Segment-local document identifier (uint32)
//   - DocID: Global document identifier in the concatenated address space (int64)
//   - FieldID: Attribute field identifier (uint32)
//   - Version: Opaque, monotonically comparable version token (uint64)
//
// # Records
//
//   - SegmentDescriptor: Static metadata of one on-disk segment
//   - MergeInfo: One (segment, old id, new id) triple emitted by a merge traversal
//   - PatchRecord: One patched value emitted by the patch merger
//
// A global id is BaseDocID + LocalDocID of the owning segment:
//
//	desc := model.SegmentDescriptor{ID: 7, DocCount: 100, BaseDocID: 250}
//	desc.GlobalID(3) // 253
package model
