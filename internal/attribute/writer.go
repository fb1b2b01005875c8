package attribute

import (
	"fmt"

	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/model"
)

// SequentialWriter builds the column of a merged segment. Values must be
// appended with new ids 0, 1, 2, ...; patches may be applied afterwards in
// any order.
type SequentialWriter struct {
	c    *Column
	next model.DocID
}

// NewSequentialWriter returns a writer for a column of docs documents.
func NewSequentialWriter(col schema.Column, docs int) *SequentialWriter {
	return &SequentialWriter{c: NewColumn(col, docs)}
}

// Append stores the values of newID in member order. values may be shorter
// than the member count; missing values stay empty.
func (w *SequentialWriter) Append(newID model.DocID, values [][]byte) error {
	if newID != w.next {
		return fmt.Errorf("%w: got %d, want %d", ErrNonContiguous, newID, w.next)
	}
	if int(newID) >= w.c.docs {
		return fmt.Errorf("%w: doc %d in column of %d docs", ErrOutOfRange, newID, w.c.docs)
	}
	if len(values) > len(w.c.col.Fields) {
		return fmt.Errorf("%w: %d values for %d fields", ErrOutOfRange, len(values), len(w.c.col.Fields))
	}
	dst, _ := w.c.Values(int(newID))
	for i, v := range values {
		dst[i] = append([]byte(nil), v...)
	}
	w.next++
	return nil
}

// Appended returns the number of appended documents.
func (w *SequentialWriter) Appended() int { return int(w.next) }

// WritePatch overwrites one value with a merged patch record.
func (w *SequentialWriter) WritePatch(rec *model.PatchRecord) error {
	if !rec.NewDocID.IsValid() {
		return fmt.Errorf("%w: patch for invalid doc", ErrOutOfRange)
	}
	return w.c.Set(int(rec.NewDocID), rec.FieldID, rec.Value)
}

// Column returns the built column. All documents must have been appended.
func (w *SequentialWriter) Column() (*Column, error) {
	if int(w.next) != w.c.docs {
		return nil, fmt.Errorf("%w: %d of %d docs appended", ErrNonContiguous, w.next, w.c.docs)
	}
	return w.c, nil
}

// Flush writes the built column to dir.
func (w *SequentialWriter) Flush(dir fs.Directory) error {
	c, err := w.Column()
	if err != nil {
		return err
	}
	return Write(dir, c)
}
