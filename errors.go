package segmerge

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/segmerge/internal/attribute"
	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/merge"
	"github.com/hupe1980/segmerge/internal/patch"
	"github.com/hupe1980/segmerge/internal/pkhash"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
)

var (
	// ErrInvalidPlan is returned for a merge plan that cannot be executed.
	ErrInvalidPlan = errors.New("invalid merge plan")
	// ErrInvalidSchema is returned for a schema that fails validation.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrInvalidArgument is returned for unusable call arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a segment or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when persisted data fails validation.
	ErrCorrupt = errors.New("corrupt data")
	// ErrTableFull is returned when a primary-key table has no free slot.
	ErrTableFull = errors.New("primary-key table full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("table closed")
)

// ErrCorruptRecord indicates an invalid record in a patch file.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrCorruptRecord struct {
	File   string
	Record uint32
	cause  error
}

func (e *ErrCorruptRecord) Error() string {
	return fmt.Sprintf("corrupt record %d in %s: %v", e.Record, e.File, e.cause)
}

func (e *ErrCorruptRecord) Unwrap() error { return e.cause }

// Is reports ErrCorruptRecord as a kind of ErrCorrupt.
func (e *ErrCorruptRecord) Is(target error) bool { return target == ErrCorrupt }

// ErrInvalidDeletionRange indicates a deleted id outside its segment.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrInvalidDeletionRange struct {
	Segment  SegmentID
	Local    LocalDocID
	DocCount uint32
	cause    error
}

func (e *ErrInvalidDeletionRange) Error() string {
	return fmt.Sprintf("segment %d: deleted id %d out of range [0, %d)", e.Segment, e.Local, e.DocCount)
}

func (e *ErrInvalidDeletionRange) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Typed errors first: they may also match the sentinels below.
	var cr *patch.CorruptRecordError
	if errors.As(err, &cr) {
		return &ErrCorruptRecord{File: cr.File, Record: cr.Record, cause: err}
	}
	var dr *reclaim.DeletionRangeError
	if errors.As(err, &dr) {
		return &ErrInvalidDeletionRange{Segment: dr.Segment, Local: dr.Local, DocCount: dr.DocCount, cause: err}
	}

	switch {
	case errors.Is(err, merge.ErrInvalidPlan):
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	case errors.Is(err, schema.ErrInvalidSchema):
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	case errors.Is(err, pkhash.ErrTableFull):
		return fmt.Errorf("%w: %w", ErrTableFull, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, frame.ErrChecksumMismatch),
		errors.Is(err, frame.ErrInvalidMagic),
		errors.Is(err, frame.ErrUnsupportedVersion),
		errors.Is(err, patch.ErrMalformedHeader),
		errors.Is(err, patch.ErrCorruptRecord),
		errors.Is(err, reclaim.ErrInvalidFormat),
		errors.Is(err, segment.ErrInvalidInfo),
		errors.Is(err, attribute.ErrInvalidColumn),
		errors.Is(err, pkhash.ErrInvalidBuffer):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, reclaim.ErrInvalidDescriptors),
		errors.Is(err, pkhash.ErrInvalidDocCount),
		errors.Is(err, merge.ErrInvalidPrimaryKey),
		errors.Is(err, patch.ErrOutOfOrder):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
