// Package mergecursor walks the documents of a merge in new-id order.
package mergecursor

import (
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/segmerge/internal/queue"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/model"
)

// ErrMismatch is returned when the segments do not match the reclaim map.
var ErrMismatch = errors.New("mergecursor: segments do not match reclaim map")

// Iterator yields the documents of a merge with strictly increasing new ids
// starting at 0.
type Iterator interface {
	HasNext() bool
	Next() model.MergeInfo
}

type cursor struct {
	seg   int
	local model.LocalDocID
	newID model.DocID
}

// Heap merges one cursor per segment with a min-heap keyed by the cursor's
// current new id, ties broken by input segment position.
//
// A Heap is not safe for concurrent use. The reclaim map may be shared.
type Heap struct {
	rmap  *reclaim.Map
	descs []model.SegmentDescriptor
	h     *queue.Heap[cursor]
}

var _ Iterator = (*Heap)(nil)

func lessCursor(a, b cursor) bool {
	if a.newID != b.newID {
		return a.newID < b.newID
	}
	return a.seg < b.seg
}

// New creates a heap over descs. rmap must have been built from the same
// segments in the same order, without a sort order.
func New(descs []model.SegmentDescriptor, rmap *reclaim.Map) (*Heap, error) {
	if rmap.Sorted() {
		return nil, fmt.Errorf("%w: sorted map needs NewSorted", ErrMismatch)
	}
	segs := rmap.Segments()
	if len(descs) != len(segs) {
		return nil, fmt.Errorf("%w: %d segments, map has %d", ErrMismatch, len(descs), len(segs))
	}
	for i, d := range descs {
		if d.ID != segs[i].ID || d.DocCount != segs[i].DocCount {
			return nil, fmt.Errorf("%w: position %d is %s, map has %s", ErrMismatch, i, d, segs[i])
		}
	}

	mh := &Heap{
		rmap:  rmap,
		descs: descs,
		h:     queue.New(lessCursor, len(descs)),
	}
	for i := range descs {
		if c, ok := mh.seek(cursor{seg: i}); ok {
			mh.h.Push(c)
		}
	}
	return mh, nil
}

// seek moves c to its first live document at or after c.local.
func (mh *Heap) seek(c cursor) (cursor, bool) {
	n := mh.descs[c.seg].DocCount
	for uint32(c.local) < n {
		if id, ok := mh.rmap.NewID(c.seg, c.local); ok {
			c.newID = id
			return c, true
		}
		c.local++
	}
	return c, false
}

// HasNext reports whether documents remain.
func (mh *Heap) HasNext() bool {
	return mh.h.Len() > 0
}

// Next returns the document with the smallest new id. It returns the zero
// MergeInfo once the heap is exhausted.
func (mh *Heap) Next() model.MergeInfo {
	c, ok := mh.h.Top()
	if !ok {
		return model.MergeInfo{}
	}
	info := model.MergeInfo{
		SegmentID:    mh.descs[c.seg].ID,
		SegmentIndex: c.seg,
		OldDocID:     c.local,
		NewDocID:     c.newID,
	}
	c.local++
	if next, live := mh.seek(c); live {
		mh.h.ReplaceTop(next)
	} else {
		mh.h.Pop()
	}
	return info
}

// Sorted walks a sort-merge reclaim map in new-id order.
type Sorted struct {
	rmap *reclaim.Map
	next model.DocID
}

var _ Iterator = (*Sorted)(nil)

// NewSorted creates an iterator over rmap's reverse table.
func NewSorted(rmap *reclaim.Map) *Sorted {
	return &Sorted{rmap: rmap}
}

// HasNext reports whether documents remain.
func (s *Sorted) HasNext() bool {
	return uint64(s.next) < s.rmap.LiveDocs()
}

// Next returns the document with the next new id.
func (s *Sorted) Next() model.MergeInfo {
	ref, ok := s.rmap.Old(s.next)
	if !ok {
		return model.MergeInfo{}
	}
	info := model.MergeInfo{
		SegmentID:    s.rmap.Segments()[ref.Segment].ID,
		SegmentIndex: ref.Segment,
		OldDocID:     ref.Local,
		NewDocID:     s.next,
	}
	s.next++
	return info
}

// For returns the iterator matching rmap's mode.
func For(descs []model.SegmentDescriptor, rmap *reclaim.Map) (Iterator, error) {
	if rmap.Sorted() {
		return NewSorted(rmap), nil
	}
	return New(descs, rmap)
}

// All drains it as a sequence.
func All(it Iterator) iter.Seq[model.MergeInfo] {
	return func(yield func(model.MergeInfo) bool) {
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}
