package reclaim

import (
	"fmt"
	"slices"
	"sort"

	"github.com/hupe1980/segmerge/internal/deletion"
	"github.com/hupe1980/segmerge/model"
)

// Deletions is the set of deleted local ids of one segment.
// *deletion.Bitmap implements it; a nil entry means no deletions.
type Deletions interface {
	Contains(id model.LocalDocID) bool
	Max() (model.LocalDocID, bool)
}

// DocRef addresses a document by input segment position and local id.
type DocRef struct {
	Segment int
	Local   model.LocalDocID
}

// Map is the old-to-new doc id mapping of a merge.
type Map struct {
	segs []model.SegmentDescriptor
	// offsets[i] is the index of segment i's first doc in ids.
	offsets []int
	byID    map[model.SegmentID]int
	// ids holds the new id of every old doc, segment by segment.
	ids []model.DocID
	// reverse holds the ids index of every new id.
	reverse []int
	deleted uint64
	sorted  bool
}

func newMap(descs []model.SegmentDescriptor) (*Map, error) {
	m := &Map{
		segs:    slices.Clone(descs),
		offsets: make([]int, len(descs)),
		byID:    make(map[model.SegmentID]int, len(descs)),
	}
	total := 0
	for i, d := range descs {
		if d.BaseDocID < 0 {
			return nil, fmt.Errorf("%w: segment %d has negative base %d", ErrInvalidDescriptors, d.ID, d.BaseDocID)
		}
		if i > 0 {
			prev := descs[i-1]
			if d.BaseDocID < prev.BaseDocID+model.DocID(prev.DocCount) {
				return nil, fmt.Errorf("%w: segment %d overlaps segment %d", ErrInvalidDescriptors, d.ID, prev.ID)
			}
		}
		if _, dup := m.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate segment %d", ErrInvalidDescriptors, d.ID)
		}
		m.byID[d.ID] = i
		m.offsets[i] = total
		total += int(d.DocCount)
	}
	m.ids = make([]model.DocID, total)
	m.reverse = make([]int, 0, total)
	return m, nil
}

// Build assigns new ids to the live documents of descs in segment-then-local
// order. deleted[i] holds the deletions of descs[i]; missing or nil entries
// mean none.
func Build(descs []model.SegmentDescriptor, deleted []Deletions) (*Map, error) {
	m, err := newMap(descs)
	if err != nil {
		return nil, err
	}
	for i, d := range descs {
		var dels Deletions
		if i < len(deleted) {
			dels = deleted[i]
		}
		if dels != nil {
			if maxID, ok := dels.Max(); ok && uint32(maxID) >= d.DocCount {
				return nil, &DeletionRangeError{Segment: d.ID, Local: maxID, DocCount: d.DocCount}
			}
		}
		m.assign(i, func(local model.LocalDocID) bool {
			return dels != nil && dels.Contains(local)
		})
	}
	return m, nil
}

// BuildFromSource is Build with deletions answered by src.
func BuildFromSource(descs []model.SegmentDescriptor, src deletion.Source) (*Map, error) {
	if src == nil {
		src = deletion.None
	}
	m, err := newMap(descs)
	if err != nil {
		return nil, err
	}
	for i, d := range descs {
		before := m.deleted
		m.assign(i, func(local model.LocalDocID) bool {
			return src.IsDeleted(d.ID, local)
		})
		if reported := src.DeletedCount(d.ID); uint64(reported) != m.deleted-before {
			return nil, fmt.Errorf("%w: segment %d reports %d deleted, %d within %d docs",
				ErrInvalidDeletionRange, d.ID, reported, m.deleted-before, d.DocCount)
		}
	}
	return m, nil
}

// BuildSorted assigns new ids to live documents in the order given by less.
// The sort is stable, so documents that compare equal keep segment-then-local
// order.
func BuildSorted(descs []model.SegmentDescriptor, deleted []Deletions, less func(a, b DocRef) bool) (*Map, error) {
	m, err := Build(descs, deleted)
	if err != nil {
		return nil, err
	}
	refs := make([]DocRef, 0, len(m.reverse))
	for _, idx := range m.reverse {
		refs = append(refs, m.ref(idx))
	}
	slices.SortStableFunc(refs, func(a, b DocRef) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		}
		return 0
	})
	for newID, r := range refs {
		idx := m.offsets[r.Segment] + int(r.Local)
		m.ids[idx] = model.DocID(newID)
		m.reverse[newID] = idx
	}
	m.sorted = true
	return m, nil
}

func (m *Map) assign(seg int, isDeleted func(model.LocalDocID) bool) {
	off := m.offsets[seg]
	next := model.DocID(len(m.reverse))
	for local := range m.segs[seg].DocCount {
		if isDeleted(model.LocalDocID(local)) {
			m.ids[off+int(local)] = model.InvalidDocID
			m.deleted++
			continue
		}
		m.ids[off+int(local)] = next
		m.reverse = append(m.reverse, off+int(local))
		next++
	}
}

func (m *Map) ref(idx int) DocRef {
	// The last segment starting at or before idx is never empty.
	seg := sort.Search(len(m.offsets), func(i int) bool { return m.offsets[i] > idx }) - 1
	return DocRef{Segment: seg, Local: model.LocalDocID(idx - m.offsets[seg])}
}

// NewID returns the new id of a document addressed by input segment position.
// It returns false for deleted or out-of-range documents.
func (m *Map) NewID(segment int, local model.LocalDocID) (model.DocID, bool) {
	if segment < 0 || segment >= len(m.segs) || uint32(local) >= m.segs[segment].DocCount {
		return model.InvalidDocID, false
	}
	id := m.ids[m.offsets[segment]+int(local)]
	return id, id.IsValid()
}

// NewIDBySegment returns the new id of a document addressed by segment id.
func (m *Map) NewIDBySegment(seg model.SegmentID, local model.LocalDocID) (model.DocID, bool) {
	i, ok := m.byID[seg]
	if !ok {
		return model.InvalidDocID, false
	}
	return m.NewID(i, local)
}

// NewIDGlobal returns the new id of an old global id.
func (m *Map) NewIDGlobal(old model.DocID) (model.DocID, bool) {
	i := sort.Search(len(m.segs), func(i int) bool {
		d := m.segs[i]
		return d.BaseDocID+model.DocID(d.DocCount) > old
	})
	if i == len(m.segs) || !m.segs[i].Contains(old) {
		return model.InvalidDocID, false
	}
	return m.NewID(i, model.LocalDocID(old-m.segs[i].BaseDocID))
}

// Old returns the source document of a new id.
func (m *Map) Old(newID model.DocID) (DocRef, bool) {
	if newID < 0 || newID >= model.DocID(len(m.reverse)) {
		return DocRef{}, false
	}
	return m.ref(m.reverse[newID]), true
}

// Segments returns the input segment descriptors in input order.
func (m *Map) Segments() []model.SegmentDescriptor { return m.segs }

// SegmentIndex returns the input position of segment seg.
func (m *Map) SegmentIndex(seg model.SegmentID) (int, bool) {
	i, ok := m.byID[seg]
	return i, ok
}

// TotalDocs returns the number of input documents including deleted ones.
func (m *Map) TotalDocs() uint64 { return uint64(len(m.ids)) }

// DeletedDocs returns the number of documents mapped to InvalidDocID.
func (m *Map) DeletedDocs() uint64 { return m.deleted }

// LiveDocs returns the number of documents in the merge output.
func (m *Map) LiveDocs() uint64 { return uint64(len(m.reverse)) }

// Sorted reports whether new ids follow a sort order instead of old ids.
func (m *Map) Sorted() bool { return m.sorted }
