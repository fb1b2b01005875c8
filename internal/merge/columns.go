package merge

import (
	"fmt"
	"io"

	"github.com/hupe1980/segmerge/internal/attribute"
	"github.com/hupe1980/segmerge/internal/patch"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
)

// readColumns loads every column of seg in schema order.
func readColumns(seg *segment.Segment, cols []schema.Column) ([]*attribute.Column, error) {
	out := make([]*attribute.Column, len(cols))
	for i, col := range cols {
		c, err := attribute.Read(seg.Dir, col, int(seg.Info.DocCount))
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", seg.Info.ID, err)
		}
		out[i] = c
	}
	return out, nil
}

// PatchedColumn loads a column of seg with its pending patches applied.
func PatchedColumn(seg *segment.Segment, col schema.Column) (*attribute.Column, error) {
	c, err := attribute.Read(seg.Dir, col, int(seg.Info.DocCount))
	if err != nil {
		return nil, err
	}
	s, err := patch.OpenStream(seg, col)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()

	for s.HasNext() {
		e, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := c.Set(int(e.Doc), e.FieldID, e.Value); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type sortKey struct {
	field schema.SortField
	typ   schema.Type
	// cols holds the patched column of every input segment.
	cols []*attribute.Column
}

// sortLess returns the document order of a sort merge: the current values of
// the schema sort key, compared field by field.
func sortLess(s *schema.Schema, segs []*segment.Segment) (func(a, b reclaim.DocRef) bool, error) {
	keys := make([]sortKey, 0, len(s.SortBy))
	for _, sf := range s.SortBy {
		fld, _ := s.Field(sf.Field)
		col, _ := s.ColumnOf(sf.Field)
		k := sortKey{field: sf, typ: fld.Type, cols: make([]*attribute.Column, len(segs))}
		for i, seg := range segs {
			c, err := PatchedColumn(seg, col)
			if err != nil {
				return nil, fmt.Errorf("sort key %d of segment %d: %w", sf.Field, seg.Info.ID, err)
			}
			k.cols[i] = c
		}
		keys = append(keys, k)
	}

	return func(a, b reclaim.DocRef) bool {
		for _, k := range keys {
			va, _ := k.cols[a.Segment].Get(int(a.Local), k.field.Field)
			vb, _ := k.cols[b.Segment].Get(int(b.Local), k.field.Field)
			c := attribute.Compare(k.typ, va, vb)
			if k.field.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	}, nil
}
