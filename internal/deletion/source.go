package deletion

import (
	"sync"

	"github.com/hupe1980/segmerge/model"
)

// Source answers deletion queries for segments.
type Source interface {
	IsDeleted(seg model.SegmentID, local model.LocalDocID) bool
	DeletedCount(seg model.SegmentID) uint32
}

// Map is a Source backed by one Bitmap per segment.
// It is safe for concurrent use.
type Map struct {
	mu   sync.RWMutex
	segs map[model.SegmentID]*Bitmap
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{segs: make(map[model.SegmentID]*Bitmap)}
}

// Set replaces the bitmap of seg. A nil bitmap clears it.
func (m *Map) Set(seg model.SegmentID, b *Bitmap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b == nil {
		delete(m.segs, seg)
		return
	}
	m.segs[seg] = b
}

// MarkDeleted marks a single document of seg as deleted.
func (m *Map) MarkDeleted(seg model.SegmentID, local model.LocalDocID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.segs[seg]
	if !ok {
		b = NewBitmap()
		m.segs[seg] = b
	}
	b.Add(local)
}

// Bitmap returns a snapshot of the bitmap of seg, or nil if it has no deletions.
func (m *Map) Bitmap(seg model.SegmentID) *Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.segs[seg]
	if !ok {
		return nil
	}
	return b.Clone()
}

// IsDeleted implements Source.
func (m *Map) IsDeleted(seg model.SegmentID, local model.LocalDocID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.segs[seg].Contains(local)
}

// DeletedCount implements Source.
func (m *Map) DeletedCount(seg model.SegmentID) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(m.segs[seg].Cardinality())
}

// None is a Source without deletions.
var None Source = none{}

type none struct{}

func (none) IsDeleted(model.SegmentID, model.LocalDocID) bool { return false }
func (none) DeletedCount(model.SegmentID) uint32              { return 0 }
