package deletion

import (
	"slices"
	"testing"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap(t *testing.T) {
	b := BitmapOf(10, 0, 3)
	assert.True(t, b.Contains(0))
	assert.False(t, b.Contains(1))
	assert.Equal(t, uint64(3), b.Cardinality())

	maxID, ok := b.Max()
	require.True(t, ok)
	assert.Equal(t, model.LocalDocID(10), maxID)

	assert.Equal(t, []model.LocalDocID{0, 3, 10}, slices.Collect(b.Iterator()))

	c := b.Clone()
	c.Remove(3)
	assert.True(t, b.Contains(3))
	assert.False(t, c.Contains(3))

	var nilBitmap *Bitmap
	assert.False(t, nilBitmap.Contains(1))
	assert.True(t, nilBitmap.IsEmpty())
	_, ok = nilBitmap.Max()
	assert.False(t, ok)
}

func TestBitmap_Pool(t *testing.T) {
	b := GetBitmap()
	b.Add(5)
	PutBitmap(b)

	b2 := GetBitmap()
	assert.True(t, b2.IsEmpty())
	PutBitmap(b2)
	PutBitmap(nil)
}

func TestMap_Source(t *testing.T) {
	m := NewMap()
	m.MarkDeleted(1, 4)
	m.MarkDeleted(1, 9)
	m.Set(2, BitmapOf(0))

	var src Source = m
	assert.True(t, src.IsDeleted(1, 4))
	assert.False(t, src.IsDeleted(1, 5))
	assert.False(t, src.IsDeleted(3, 0))
	assert.Equal(t, uint32(2), src.DeletedCount(1))
	assert.Equal(t, uint32(0), src.DeletedCount(3))

	snap := m.Bitmap(1)
	snap.Add(100)
	assert.False(t, m.IsDeleted(1, 100))

	m.Set(2, nil)
	assert.Nil(t, m.Bitmap(2))

	assert.False(t, None.IsDeleted(1, 4))
	assert.Zero(t, None.DeletedCount(1))
}

func TestFile_RoundTrip(t *testing.T) {
	dirs := map[string]fs.Directory{
		"local": fs.NewLocalDirectory(nil, t.TempDir()),
		"blob":  fs.NewBlobDirectory(t.Context(), blobstore.NewMemoryStore(), "segment_1"),
	}
	for name, dir := range dirs {
		t.Run(name, func(t *testing.T) {
			empty, err := Read(dir)
			require.NoError(t, err)
			assert.True(t, empty.IsEmpty())

			b := BitmapOf(0, 10, 70000)
			require.NoError(t, Write(dir, b))

			got, err := Read(dir)
			require.NoError(t, err)
			assert.Equal(t, slices.Collect(b.Iterator()), slices.Collect(got.Iterator()))
		})
	}
}

func TestFile_Corrupt(t *testing.T) {
	dir := fs.NewLocalDirectory(nil, t.TempDir())
	require.NoError(t, Write(dir, BitmapOf(1, 2, 3)))

	data, err := fs.ReadAll(dir, FileName)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, fs.WriteFile(dir, FileName, data))

	_, err = Read(dir)
	assert.ErrorIs(t, err, frame.ErrChecksumMismatch)
}
