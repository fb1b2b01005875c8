package deletion

import (
	"io"
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/segmerge/model"
)

// Bitmap is a set of deleted local doc ids of one segment.
type Bitmap struct {
	rb *roaring.Bitmap
}

var bitmapPool = sync.Pool{
	New: func() any {
		return &Bitmap{rb: roaring.New()}
	},
}

// NewBitmap creates an empty bitmap.
func NewBitmap() *Bitmap {
	return &Bitmap{rb: roaring.New()}
}

// BitmapOf creates a bitmap holding ids.
func BitmapOf(ids ...model.LocalDocID) *Bitmap {
	b := NewBitmap()
	for _, id := range ids {
		b.Add(id)
	}
	return b
}

// GetBitmap gets a bitmap from the pool. Call PutBitmap when done.
func GetBitmap() *Bitmap {
	b := bitmapPool.Get().(*Bitmap)
	b.rb.Clear()
	return b
}

// PutBitmap returns a bitmap to the pool.
func PutBitmap(b *Bitmap) {
	if b == nil {
		return
	}
	b.rb.Clear()
	bitmapPool.Put(b)
}

// Add marks id as deleted.
func (b *Bitmap) Add(id model.LocalDocID) {
	b.rb.Add(uint32(id))
}

// Remove unmarks id.
func (b *Bitmap) Remove(id model.LocalDocID) {
	b.rb.Remove(uint32(id))
}

// Contains reports whether id is deleted. A nil bitmap contains nothing.
func (b *Bitmap) Contains(id model.LocalDocID) bool {
	if b == nil {
		return false
	}
	return b.rb.Contains(uint32(id))
}

// IsEmpty returns true if the bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b == nil || b.rb.IsEmpty()
}

// Cardinality returns the number of deleted ids.
func (b *Bitmap) Cardinality() uint64 {
	if b == nil {
		return 0
	}
	return b.rb.GetCardinality()
}

// Max returns the largest id and false if the bitmap is empty.
func (b *Bitmap) Max() (model.LocalDocID, bool) {
	if b.IsEmpty() {
		return 0, false
	}
	return model.LocalDocID(b.rb.Maximum()), true
}

// Iterator returns the ids in ascending order.
func (b *Bitmap) Iterator() iter.Seq[model.LocalDocID] {
	return func(yield func(model.LocalDocID) bool) {
		if b == nil {
			return
		}
		it := b.rb.Iterator()
		for it.HasNext() {
			if !yield(model.LocalDocID(it.Next())) {
				return
			}
		}
	}
}

// Or adds all ids of other.
func (b *Bitmap) Or(other *Bitmap) {
	if other == nil {
		return
	}
	b.rb.Or(other.rb)
}

// Clone returns a deep copy of the bitmap.
func (b *Bitmap) Clone() *Bitmap {
	if b == nil {
		return NewBitmap()
	}
	return &Bitmap{rb: b.rb.Clone()}
}

// GetSizeInBytes returns the serialized size of the bitmap.
func (b *Bitmap) GetSizeInBytes() uint64 {
	return b.rb.GetSerializedSizeInBytes()
}

// WriteTo writes the bitmap in roaring portable format.
func (b *Bitmap) WriteTo(w io.Writer) (int64, error) {
	return b.rb.WriteTo(w)
}

// ReadFrom reads the bitmap in roaring portable format.
func (b *Bitmap) ReadFrom(r io.Reader) (int64, error) {
	return b.rb.ReadFrom(r)
}
