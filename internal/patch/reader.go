package patch

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
)

// Record is one decoded patch record. Payload aliases the reader's buffer and
// is valid until the next call to Next.
type Record struct {
	Doc     model.LocalDocID
	Bitmap  uint32
	Payload []byte
}

// SubValues calls fn for every sub-field value of a packed record in
// ascending bit order. The record must come from a Reader, which has already
// validated its layout.
func (r Record) SubValues(fn func(bit uint, value []byte)) {
	set := bitset.From([]uint64{uint64(r.Bitmap)})
	p := r.Payload
	for bit, ok := set.NextSet(0); ok; bit, ok = set.NextSet(bit + 1) {
		n := binary.LittleEndian.Uint32(p)
		fn(bit, p[4:4+n])
		p = p[4+n:]
	}
}

// Reader decodes a patch file sequentially.
type Reader struct {
	name    string
	h       Header
	f       fs.ReadFile
	body    io.ReadCloser
	br      *bufio.Reader
	read    uint32
	lastDoc int64
	buf     []byte
}

// OpenReader opens the patch file name in dir and reads its header.
func OpenReader(dir fs.Directory, name string) (*Reader, error) {
	f, err := dir.OpenForRead(name)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, path.Join(dir.Path(), name))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader reads a patch file from f. The reader takes ownership of f.
func NewReader(f fs.ReadFile, name string) (*Reader, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(f, hb[:]); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedHeader, name, err)
	}
	h, err := ParseHeader(hb[:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	body, err := compress.NewReader(f, h.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedHeader, name, err)
	}
	return &Reader{
		name:    name,
		h:       h,
		f:       f,
		body:    body,
		br:      bufio.NewReader(body),
		lastDoc: -1,
	}, nil
}

// Header returns the file header.
func (r *Reader) Header() Header { return r.h }

// Name returns the file path.
func (r *Reader) Name() string { return r.name }

func (r *Reader) corrupt(format string, args ...any) error {
	return &CorruptRecordError{File: r.name, Record: r.read, Reason: fmt.Sprintf(format, args...)}
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	if r.read == r.h.Records {
		if _, err := r.br.ReadByte(); err != io.EOF {
			if err != nil {
				return Record{}, r.corrupt("read trailer: %v", err)
			}
			return Record{}, r.corrupt("trailing bytes after %d records", r.h.Records)
		}
		return Record{}, io.EOF
	}

	fixed := 8
	if r.h.Packed {
		fixed = 12
	}
	var hb [12]byte
	if _, err := io.ReadFull(r.br, hb[:fixed]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, r.corrupt("truncated record header, %d of %d records read", r.read, r.h.Records)
		}
		return Record{}, err
	}

	rec := Record{Doc: model.LocalDocID(binary.LittleEndian.Uint32(hb[0:4]))}
	length := binary.LittleEndian.Uint32(hb[fixed-4 : fixed])
	if int64(rec.Doc) <= r.lastDoc {
		return Record{}, r.corrupt("doc %d after %d", rec.Doc, r.lastDoc)
	}

	limit := uint64(r.h.MaxValueLen)
	if r.h.Packed {
		rec.Bitmap = binary.LittleEndian.Uint32(hb[4:8])
		if rec.Bitmap == 0 {
			return Record{}, r.corrupt("empty sub-field bitmap")
		}
		if rec.Bitmap>>r.h.SubFields != 0 {
			return Record{}, r.corrupt("bitmap %#x references unknown sub-field, %d defined", rec.Bitmap, r.h.SubFields)
		}
		n := uint64(bitset.From([]uint64{uint64(rec.Bitmap)}).Count())
		limit = n * (4 + limit)
	}
	if uint64(length) > limit {
		return Record{}, r.corrupt("length %d exceeds limit %d", length, limit)
	}

	if cap(r.buf) < int(length) {
		r.buf = make([]byte, length)
	}
	rec.Payload = r.buf[:length]
	if _, err := io.ReadFull(r.br, rec.Payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, r.corrupt("length %d exceeds remaining bytes", length)
		}
		return Record{}, err
	}
	if r.h.Packed {
		if err := r.checkPacked(rec); err != nil {
			return Record{}, err
		}
	}

	r.lastDoc = int64(rec.Doc)
	r.read++
	return rec, nil
}

func (r *Reader) checkPacked(rec Record) error {
	p := rec.Payload
	set := bitset.From([]uint64{uint64(rec.Bitmap)})
	for bit, ok := set.NextSet(0); ok; bit, ok = set.NextSet(bit + 1) {
		if len(p) < 4 {
			return r.corrupt("sub-field %d: missing length", bit)
		}
		n := binary.LittleEndian.Uint32(p)
		if n > r.h.MaxValueLen || uint64(n) > uint64(len(p)-4) {
			return r.corrupt("sub-field %d: length %d exceeds record", bit, n)
		}
		p = p[4+n:]
	}
	if len(p) != 0 {
		return r.corrupt("%d bytes left after sub-fields", len(p))
	}
	return nil
}

// Close releases the file.
func (r *Reader) Close() error {
	_ = r.body.Close()
	return r.f.Close()
}
