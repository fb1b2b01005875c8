package model

import (
	"fmt"
)

// SegmentID is the unique identifier for a segment.
// IDs are assigned monotonically at creation and never reused.
type SegmentID uint64

// LocalDocID is a dense, segment-local document identifier.
type LocalDocID uint32

// DocID is a document identifier in the logically concatenated address space
// of all segments, or in the address space of a merge output.
type DocID int64

// InvalidDocID marks a document that does not survive a merge.
const InvalidDocID DocID = -1

// IsValid reports whether id is not InvalidDocID.
func (id DocID) IsValid() bool {
	return id >= 0
}

// FieldID identifies an attribute field (or a pack group) in the schema.
type FieldID uint32

// Version is an opaque token for segment and patch generations.
// Only ordering between two tokens is meaningful.
type Version uint64

// SegmentDescriptor is the static metadata of one on-disk segment.
type SegmentDescriptor struct {
	ID SegmentID
	// DocCount is the number of physically stored documents, including deleted ones.
	DocCount uint32
	// DeletedCount is the number of deleted documents.
	DeletedCount uint32
	// BaseDocID is the offset of this segment's local id space.
	BaseDocID DocID
}

// LiveCount returns the number of documents that are not deleted.
func (d SegmentDescriptor) LiveCount() uint32 {
	if d.DeletedCount > d.DocCount {
		return 0
	}
	return d.DocCount - d.DeletedCount
}

// GlobalID returns the global id of a local document.
func (d SegmentDescriptor) GlobalID(local LocalDocID) DocID {
	return d.BaseDocID + DocID(local)
}

// Contains reports whether the global id falls into this segment.
func (d SegmentDescriptor) Contains(global DocID) bool {
	return global >= d.BaseDocID && global < d.BaseDocID+DocID(d.DocCount)
}

// String returns a string representation of the descriptor.
func (d SegmentDescriptor) String() string {
	return fmt.Sprintf("Seg(%d docs=%d deleted=%d base=%d)", d.ID, d.DocCount, d.DeletedCount, d.BaseDocID)
}

// MergeInfo is one document emitted by a merge traversal.
type MergeInfo struct {
	SegmentID SegmentID
	// SegmentIndex is the position of the segment in the merge input.
	SegmentIndex int
	OldDocID     LocalDocID
	NewDocID     DocID
}

// String returns a string representation of the MergeInfo.
func (m MergeInfo) String() string {
	return fmt.Sprintf("Merge(%d:%d -> %d)", m.SegmentID, m.OldDocID, m.NewDocID)
}

// PatchRecord is one patched field value.
//
// Value aliases a scratch buffer owned by the producer and is only valid
// until the producer is advanced again.
type PatchRecord struct {
	SegmentID SegmentID
	FieldID   FieldID
	// GroupID is the pack group of the field, or the field itself for plain fields.
	GroupID  FieldID
	OldDocID LocalDocID
	NewDocID DocID
	Value    []byte
}

// Len returns the payload length.
func (r *PatchRecord) Len() int {
	return len(r.Value)
}

// String returns a string representation of the PatchRecord.
func (r *PatchRecord) String() string {
	return fmt.Sprintf("Patch(field=%d %d:%d -> %d len=%d)", r.FieldID, r.SegmentID, r.OldDocID, r.NewDocID, len(r.Value))
}
