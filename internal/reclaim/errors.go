package reclaim

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segmerge/model"
)

var (
	// ErrInvalidDeletionRange is returned when a deleted id lies outside its segment.
	ErrInvalidDeletionRange = errors.New("reclaim: deletion out of range")
	// ErrInvalidDescriptors is returned when segment id ranges overlap or are unordered.
	ErrInvalidDescriptors = errors.New("reclaim: invalid segment descriptors")
	// ErrInvalidFormat is returned when a persisted map cannot be decoded.
	ErrInvalidFormat = errors.New("reclaim: invalid format")
)

// DeletionRangeError reports a deleted local id that is not below the
// segment's doc count.
type DeletionRangeError struct {
	Segment  model.SegmentID
	Local    model.LocalDocID
	DocCount uint32
}

func (e *DeletionRangeError) Error() string {
	return fmt.Sprintf("reclaim: segment %d: deleted id %d out of range [0, %d)", e.Segment, e.Local, e.DocCount)
}

func (e *DeletionRangeError) Unwrap() error {
	return ErrInvalidDeletionRange
}
