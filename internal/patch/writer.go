package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

// Writer writes one patch file. The body is buffered until Close because the
// header carries the record count and the largest value length.
type Writer struct {
	h       Header
	dst     io.Writer
	body    bytes.Buffer
	cw      io.WriteCloser
	lastDoc int64
	rec     []byte
	closed  bool

	// commit runs after the file content has been written.
	commit func() error
	abort  func()
}

// NewWriter returns a writer that emits the file to dst on Close.
func NewWriter(dst io.Writer, h Header) (*Writer, error) {
	h.Records, h.MaxValueLen = 0, 0
	if err := h.validate(); err != nil {
		return nil, err
	}
	w := &Writer{h: h, dst: dst, lastDoc: -1}
	cw, err := compress.NewWriter(&w.body, h.Compression)
	if err != nil {
		return nil, err
	}
	w.cw = cw
	return w, nil
}

// Create writes the patch file name in dir. The file appears under its final
// name only after a successful Close.
func Create(dir fs.Directory, name string, h Header) (*Writer, error) {
	tmp := name + ".tmp"
	_ = dir.Remove(tmp)
	f, err := dir.OpenForAppend(tmp)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h)
	if err != nil {
		_ = f.Close()
		_ = dir.Remove(tmp)
		return nil, err
	}
	w.commit = func() error {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return dir.Rename(tmp, name)
	}
	w.abort = func() {
		_ = f.Close()
		_ = dir.Remove(tmp)
	}
	return w, nil
}

// CreateNext writes the next patch generation of col in a segment directory.
func CreateNext(dir fs.Directory, col schema.Column, version model.Version, ct compress.Type) (*Writer, error) {
	gen, err := segment.NextPatchGeneration(dir, col.ID, col.Packed)
	if err != nil {
		return nil, err
	}
	h := Header{Packed: col.Packed, Compression: ct, ID: col.ID, Version: version}
	if col.Packed {
		h.SubFields = uint32(len(col.Fields))
	}
	return Create(dir, segment.PatchFile(col.ID, col.Packed, gen), h)
}

// Header returns the header as it will be written.
func (w *Writer) Header() Header { return w.h }

func (w *Writer) checkDoc(doc model.LocalDocID) error {
	if w.closed {
		return fmt.Errorf("patch: write after close")
	}
	if int64(doc) <= w.lastDoc {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, doc, w.lastDoc)
	}
	return nil
}

// Write adds a record to a single-field file.
func (w *Writer) Write(doc model.LocalDocID, value []byte) error {
	if w.h.Packed {
		return fmt.Errorf("patch: Write on packed file %d", w.h.ID)
	}
	if err := w.checkDoc(doc); err != nil {
		return err
	}
	if len(value) > math.MaxUint32 {
		return fmt.Errorf("patch: value of %d bytes", len(value))
	}
	w.rec = binary.LittleEndian.AppendUint32(w.rec[:0], uint32(doc))
	w.rec = binary.LittleEndian.AppendUint32(w.rec, uint32(len(value)))
	w.rec = append(w.rec, value...)
	w.h.MaxValueLen = max(w.h.MaxValueLen, uint32(len(value)))
	return w.emit(doc)
}

// WritePacked adds a record to a packed file. values holds one value per set
// bit of bitmap in ascending bit order.
func (w *Writer) WritePacked(doc model.LocalDocID, bitmap uint32, values [][]byte) error {
	if !w.h.Packed {
		return fmt.Errorf("patch: WritePacked on single-field file %d", w.h.ID)
	}
	if err := w.checkDoc(doc); err != nil {
		return err
	}
	if bitmap == 0 {
		return fmt.Errorf("patch: empty sub-field bitmap for doc %d", doc)
	}
	if bitmap>>w.h.SubFields != 0 {
		return fmt.Errorf("patch: bitmap %#x exceeds %d sub-fields", bitmap, w.h.SubFields)
	}
	if n := bits.OnesCount32(bitmap); n != len(values) {
		return fmt.Errorf("patch: bitmap has %d bits, got %d values", n, len(values))
	}

	total := 0
	for _, v := range values {
		total += 4 + len(v)
	}
	if total > math.MaxUint32 {
		return fmt.Errorf("patch: record of %d bytes", total)
	}
	w.rec = binary.LittleEndian.AppendUint32(w.rec[:0], uint32(doc))
	w.rec = binary.LittleEndian.AppendUint32(w.rec, bitmap)
	w.rec = binary.LittleEndian.AppendUint32(w.rec, uint32(total))
	for _, v := range values {
		w.rec = binary.LittleEndian.AppendUint32(w.rec, uint32(len(v)))
		w.rec = append(w.rec, v...)
		w.h.MaxValueLen = max(w.h.MaxValueLen, uint32(len(v)))
	}
	return w.emit(doc)
}

func (w *Writer) emit(doc model.LocalDocID) error {
	if w.h.Records == math.MaxUint32 {
		return fmt.Errorf("patch: too many records")
	}
	if _, err := w.cw.Write(w.rec); err != nil {
		return err
	}
	w.lastDoc = int64(doc)
	w.h.Records++
	return nil
}

// Close writes the header and body.
func (w *Writer) Close() (err error) {
	if w.closed {
		return nil
	}
	w.closed = true
	defer func() {
		if err != nil && w.abort != nil {
			w.abort()
		}
	}()

	if err := w.cw.Close(); err != nil {
		return err
	}
	hdr, err := w.h.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.dst.Write(hdr); err != nil {
		return err
	}
	if _, err := w.body.WriteTo(w.dst); err != nil {
		return err
	}
	if w.commit != nil {
		return w.commit()
	}
	return nil
}

// Abort discards the file.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.cw.Close()
	if w.abort != nil {
		w.abort()
	}
}
