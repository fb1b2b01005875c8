package segmerge

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/merge"
	"github.com/hupe1980/segmerge/internal/patch"
	"github.com/hupe1980/segmerge/internal/pkhash"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"plan", fmt.Errorf("run: %w", merge.ErrInvalidPlan), ErrInvalidPlan},
		{"schema", schema.ErrInvalidSchema, ErrInvalidSchema},
		{"table full", pkhash.ErrTableFull, ErrTableFull},
		{"missing file", fmt.Errorf("open: %w", os.ErrNotExist), ErrNotFound},
		{"checksum", frame.ErrChecksumMismatch, ErrCorrupt},
		{"reclaim format", reclaim.ErrInvalidFormat, ErrCorrupt},
		{"header", patch.ErrMalformedHeader, ErrCorrupt},
		{"out of order", patch.ErrOutOfOrder, ErrInvalidArgument},
		{"primary key", merge.ErrInvalidPrimaryKey, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	other := errors.New("boom")
	assert.Same(t, other, translateError(other))
}

func TestTranslateError_Typed(t *testing.T) {
	cause := fmt.Errorf("work item: %w", &patch.CorruptRecordError{File: "patch_2_1", Record: 4, Reason: "doc out of order"})
	err := translateError(cause)

	var cr *ErrCorruptRecord
	require.ErrorAs(t, err, &cr)
	assert.Equal(t, "patch_2_1", cr.File)
	assert.Equal(t, uint32(4), cr.Record)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, patch.ErrCorruptRecord)

	err = translateError(&reclaim.DeletionRangeError{Segment: 3, Local: 9, DocCount: 5})
	var dr *ErrInvalidDeletionRange
	require.ErrorAs(t, err, &dr)
	assert.Equal(t, SegmentID(3), dr.Segment)
	assert.Equal(t, LocalDocID(9), dr.Local)
	assert.ErrorIs(t, err, reclaim.ErrInvalidDeletionRange)
	assert.Contains(t, err.Error(), "out of range [0, 5)")
}
