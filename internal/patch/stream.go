package patch

import (
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

// Kind selects the record layout of a stream.
type Kind uint8

const (
	// KindSingle streams one plain field.
	KindSingle Kind = iota
	// KindPacked streams the sub-fields of a pack group.
	KindPacked
)

func (k Kind) String() string {
	if k == KindPacked {
		return "packed"
	}
	return "single"
}

// Entry is one patched value. Value is valid until the stream advances past
// the entry's document.
type Entry struct {
	Doc     model.LocalDocID
	FieldID model.FieldID
	Value   []byte
}

type generation struct {
	gen uint32
	r   *Reader
	cur Record
}

// Stream yields the patched values of one column of one segment in ascending
// doc order. Generations are merged and the newest generation wins per doc
// and, for packed columns, per sub-field.
type Stream struct {
	kind     Kind
	segment  model.SegmentID
	column   schema.Column
	docCount uint32
	sizeHint int
	// gens holds the generations that still have records, oldest first.
	gens []*generation

	pending []Entry
	pos     int
	vals    [MaxSubFields][]byte
	buf     []byte
}

// OpenStream opens every patch generation of col in seg. Packed generations
// whose version is at or below the segment's last loaded version are skipped.
func OpenStream(seg *segment.Segment, col schema.Column) (*Stream, error) {
	s := &Stream{
		kind:     KindSingle,
		segment:  seg.Info.ID,
		column:   col,
		docCount: seg.Info.DocCount,
	}
	if col.Packed {
		s.kind = KindPacked
		if len(col.Fields) == 0 || len(col.Fields) > MaxSubFields {
			return nil, fmt.Errorf("%w: pack group %d has %d fields", ErrMalformedHeader, col.ID, len(col.Fields))
		}
	}
	if err := s.open(seg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stream) open(seg *segment.Segment) error {
	col := s.column
	gens, err := segment.PatchGenerations(seg.Dir, col.ID, col.Packed)
	if err != nil {
		return err
	}
	for _, gen := range gens {
		r, err := OpenReader(seg.Dir, segment.PatchFile(col.ID, col.Packed, gen))
		if err != nil {
			return err
		}
		h := r.Header()
		if err := s.checkHeader(h); err != nil {
			_ = r.Close()
			return fmt.Errorf("%s: %w", r.Name(), err)
		}
		if col.Packed && h.Version <= seg.Info.LastLoadedVersion {
			_ = r.Close()
			continue
		}

		g := &generation{gen: gen, r: r}
		s.gens = append(s.gens, g)
		s.sizeHint = max(s.sizeHint, int(h.MaxValueLen))
		if err := s.advance(g); err != nil {
			return err
		}
	}
	s.dropExhausted()
	return nil
}

func (s *Stream) checkHeader(h Header) error {
	switch {
	case h.ID != s.column.ID:
		return fmt.Errorf("%w: file for column %d, want %d", ErrMalformedHeader, h.ID, s.column.ID)
	case h.Packed != s.column.Packed:
		return fmt.Errorf("%w: packed flag %t, want %t", ErrMalformedHeader, h.Packed, s.column.Packed)
	case h.Packed && int(h.SubFields) != len(s.column.Fields):
		return fmt.Errorf("%w: %d sub-fields, group %d has %d", ErrMalformedHeader, h.SubFields, s.column.ID, len(s.column.Fields))
	}
	return nil
}

// advance reads the next record of g. An exhausted generation keeps a nil reader.
func (s *Stream) advance(g *generation) error {
	rec, err := g.r.Next()
	if err == io.EOF {
		err = g.r.Close()
		g.r = nil
		return err
	}
	if err != nil {
		return err
	}
	if uint32(rec.Doc) >= s.docCount {
		return &CorruptRecordError{
			File:   g.r.Name(),
			Record: g.r.read - 1,
			Reason: fmt.Sprintf("doc %d out of range [0, %d)", rec.Doc, s.docCount),
		}
	}
	g.cur = rec
	return nil
}

func (s *Stream) dropExhausted() {
	live := s.gens[:0]
	for _, g := range s.gens {
		if g.r != nil {
			live = append(live, g)
		}
	}
	clear(s.gens[len(live):])
	s.gens = live
}

// Kind returns the stream kind.
func (s *Stream) Kind() Kind { return s.kind }

// Segment returns the segment id.
func (s *Stream) Segment() model.SegmentID { return s.segment }

// Column returns the patched column.
func (s *Stream) Column() schema.Column { return s.column }

// SizeHint returns the largest value the stream can emit.
func (s *Stream) SizeHint() int { return s.sizeHint }

// HasNext reports whether entries remain.
func (s *Stream) HasNext() bool {
	return s.pos < len(s.pending) || len(s.gens) > 0
}

// Next returns the next entry.
func (s *Stream) Next() (Entry, error) {
	if s.pos == len(s.pending) {
		if err := s.fill(); err != nil {
			return Entry{}, err
		}
		if len(s.pending) == 0 {
			return Entry{}, io.EOF
		}
	}
	e := s.pending[s.pos]
	s.pos++
	return e, nil
}

// fill assembles the entries of the smallest pending doc across generations.
func (s *Stream) fill() error {
	s.pending, s.pos = s.pending[:0], 0
	if len(s.gens) == 0 {
		return nil
	}
	doc := s.gens[0].cur.Doc
	for _, g := range s.gens[1:] {
		doc = min(doc, g.cur.Doc)
	}

	// Collect values oldest first so newer generations overwrite.
	var set uint64
	for _, g := range s.gens {
		if g.cur.Doc != doc {
			continue
		}
		if s.kind == KindSingle {
			s.vals[0] = g.cur.Payload
			set = 1
			continue
		}
		g.cur.SubValues(func(bit uint, v []byte) {
			s.vals[bit] = v
			set |= 1 << bit
		})
	}

	s.buf = s.buf[:0]
	for bit := range s.column.Fields {
		if set&(1<<bit) == 0 {
			continue
		}
		start := len(s.buf)
		s.buf = append(s.buf, s.vals[bit]...)
		s.pending = append(s.pending, Entry{Doc: doc, FieldID: s.column.Fields[bit], Value: s.buf[start:len(s.buf):len(s.buf)]})
		s.vals[bit] = nil
	}

	var errs []error
	for _, g := range s.gens {
		if g.cur.Doc == doc {
			errs = append(errs, s.advance(g))
		}
	}
	s.dropExhausted()
	return errors.Join(errs...)
}

// Close releases all open patch files.
func (s *Stream) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, g := range s.gens {
		if g.r != nil {
			errs = append(errs, g.r.Close())
			g.r = nil
		}
	}
	s.gens = nil
	return errors.Join(errs...)
}
