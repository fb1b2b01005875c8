package reclaim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
)

const (
	magic   = 0x534d524d // "SMRM"
	version = 1

	flagSorted = 1 << 0

	invalidID = math.MaxUint32
)

// WriteTo writes the map as a checksummed frame with a zstd payload:
//
//	flags u32 | raw_len u64 | zstd(raw)
//	raw: seg_count u32 | (id u64, base u64, docs u32, deleted u32)* | new_id u32 per old doc
//
// Deleted documents are stored as 0xFFFFFFFF.
func (m *Map) WriteTo(w io.Writer) (int64, error) {
	if m.LiveDocs() >= invalidID {
		return 0, fmt.Errorf("%w: %d live docs exceed u32 ids", ErrInvalidFormat, m.LiveDocs())
	}

	raw := make([]byte, 0, 4+24*len(m.segs)+4*len(m.ids))
	raw = binary.LittleEndian.AppendUint32(raw, uint32(len(m.segs)))
	for _, d := range m.segs {
		raw = binary.LittleEndian.AppendUint64(raw, uint64(d.ID))
		raw = binary.LittleEndian.AppendUint64(raw, uint64(d.BaseDocID))
		raw = binary.LittleEndian.AppendUint32(raw, d.DocCount)
		raw = binary.LittleEndian.AppendUint32(raw, d.DeletedCount)
	}
	for _, id := range m.ids {
		v := uint32(invalidID)
		if id.IsValid() {
			v = uint32(id)
		}
		raw = binary.LittleEndian.AppendUint32(raw, v)
	}

	packed, err := compress.EncodeAll(compress.ZSTD, raw)
	if err != nil {
		return 0, err
	}

	var flags uint32
	if m.sorted {
		flags |= flagSorted
	}
	pb := frame.NewBuffer(make([]byte, 0, 16+len(packed)))
	pb.WriteUint32(flags)
	pb.WriteUint64(uint64(len(raw)))
	pb.WriteBytes(packed)
	if err := pb.Err(); err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	err = frame.Write(cw, magic, version, pb.Bytes())
	return cw.n, err
}

// Read decodes a map written by WriteTo.
func Read(r io.Reader) (*Map, error) {
	_, payload, err := frame.Read(r, magic, version)
	if err != nil {
		return nil, err
	}
	pb := frame.NewBuffer(payload)
	flags := pb.ReadUint32()
	rawLen := pb.ReadUint64()
	packed := pb.ReadBytes()
	if err := pb.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if rawLen > math.MaxInt32*8 {
		return nil, fmt.Errorf("%w: raw length %d", ErrInvalidFormat, rawLen)
	}
	raw, err := compress.DecodeAll(compress.ZSTD, packed, int(rawLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	rb := frame.NewBuffer(raw)
	n := rb.ReadUint32()
	if rb.Err() == nil && int(n) > rb.Remaining()/24 {
		return nil, fmt.Errorf("%w: %d segments in %d bytes", ErrInvalidFormat, n, rb.Remaining())
	}
	descs := make([]model.SegmentDescriptor, n)
	for i := range descs {
		descs[i] = model.SegmentDescriptor{
			ID:           model.SegmentID(rb.ReadUint64()),
			BaseDocID:    model.DocID(rb.ReadUint64()),
			DocCount:     rb.ReadUint32(),
			DeletedCount: rb.ReadUint32(),
		}
	}
	if err := rb.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	m, err := newMap(descs)
	if err != nil {
		return nil, err
	}
	if rb.Remaining() != 4*len(m.ids) {
		return nil, fmt.Errorf("%w: %d id bytes for %d docs", ErrInvalidFormat, rb.Remaining(), len(m.ids))
	}
	for i := range m.ids {
		v := rb.ReadUint32()
		if v == invalidID {
			m.ids[i] = model.InvalidDocID
			m.deleted++
			continue
		}
		m.ids[i] = model.DocID(v)
	}

	live := len(m.ids) - int(m.deleted)
	m.reverse = m.reverse[:live]
	seen := make([]bool, live)
	for idx, id := range m.ids {
		if !id.IsValid() {
			continue
		}
		if int(id) >= live || seen[id] {
			return nil, fmt.Errorf("%w: new id %d is not dense", ErrInvalidFormat, id)
		}
		seen[id] = true
		m.reverse[id] = idx
	}
	m.sorted = flags&flagSorted != 0
	return m, nil
}

// WriteFile stores m as name in dir.
func WriteFile(dir fs.Directory, name string, m *Map) error {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return err
	}
	return fs.WriteFile(dir, name, buf.Bytes())
}

// ReadFile loads the map stored as name in dir.
func ReadFile(dir fs.Directory, name string) (*Map, error) {
	f, err := dir.OpenForRead(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", dir.Path(), name, err)
	}
	return m, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
