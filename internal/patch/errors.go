package patch

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHeader is returned for a patch file header that cannot be used.
	ErrMalformedHeader = errors.New("patch: malformed header")
	// ErrCorruptRecord is returned for a record that fails validation.
	ErrCorruptRecord = errors.New("patch: corrupt record")
	// ErrOutOfOrder is returned when a writer receives a non-ascending doc id.
	ErrOutOfOrder = errors.New("patch: doc ids must be strictly ascending")
	// ErrStarted is returned when a merger is split after iteration began.
	ErrStarted = errors.New("patch: merger already started")
	// ErrNotReserved is returned when a merger is advanced before Reserve.
	ErrNotReserved = errors.New("patch: merger not reserved")
)

// CorruptRecordError describes a corrupt record.
type CorruptRecordError struct {
	File   string
	Record uint32
	Reason string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("patch: corrupt record %d in %s: %s", e.Record, e.File, e.Reason)
}

func (e *CorruptRecordError) Unwrap() error {
	return ErrCorruptRecord
}
