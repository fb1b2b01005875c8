package pkhash

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityFor_SmallTable(t *testing.T) {
	want := map[int64]uint64{
		1: 3, 2: 5, 3: 7, 4: 9, 5: 11, 6: 13, 7: 15, 8: 17,
		9: 19, 10: 21, 11: 23, 12: 25, 13: 27, 14: 29, 15: 31, 16: 33,
	}
	for n, b := range want {
		got, err := CapacityFor(n)
		require.NoError(t, err)
		assert.Equal(t, b, got, "doc count %d", n)
	}
}

func TestCapacityFor_Large(t *testing.T) {
	for _, n := range []int64{17, 100, 1000, 12345, 50_000_000, 1<<32 - 1} {
		got, err := CapacityFor(n)
		require.NoError(t, err)
		assert.Greater(t, got*LoadFactorPercent, uint64(n)*100, "doc count %d", n)
		assert.Less(t, got, uint64(2*n), "doc count %d", n)
		assert.True(t, isPrime(got), "doc count %d -> %d", n, got)
	}

	got, err := CapacityFor(17)
	require.NoError(t, err)
	assert.Equal(t, uint64(23), got)
}

func TestCapacityFor_Invalid(t *testing.T) {
	for _, n := range []int64{0, -1, 1 << 32} {
		_, err := CapacityFor(n)
		assert.ErrorIs(t, err, ErrInvalidDocCount, "doc count %d", n)
	}
}

func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	for d := uint64(2); d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}

func TestTable_LastInsertWins(t *testing.T) {
	const n = 1000
	tbl, err := New[Key64](n)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	want := make(map[Key64]uint32)
	for i := range n {
		k := Key64(rng.Uint64N(600))
		replaced, err := tbl.Insert(k, uint32(i))
		require.NoError(t, err)
		_, seen := want[k]
		assert.Equal(t, seen, replaced)
		want[k] = uint32(i)
	}

	for k, doc := range want {
		got, ok := tbl.Find(k)
		require.True(t, ok)
		assert.Equal(t, doc, got)
	}
	_, ok := tbl.Find(Key64(10_000))
	assert.False(t, ok)
	assert.Equal(t, len(want), tbl.Len())
}

func TestTable_Key128(t *testing.T) {
	tbl, err := New[Key128](4)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), tbl.BucketCount())
	assert.Len(t, tbl.Bytes(), HeaderSize+9*20)

	keys := []Key128{{Lo: 1}, {Hi: 1}, {Lo: 1, Hi: 1}, {}}
	for i, k := range keys {
		_, err := tbl.Insert(k, uint32(i))
		require.NoError(t, err)
	}
	for i, k := range keys {
		got, ok := tbl.Find(k)
		require.True(t, ok, k.String())
		assert.Equal(t, uint32(i), got)
	}
	_, ok := tbl.Find(Key128{Lo: 2})
	assert.False(t, ok)
}

func TestTable_Full(t *testing.T) {
	buf := make([]byte, BufferSize[Key64](2))
	tbl, err := Init[Key64](buf, 2, 2)
	require.NoError(t, err)

	_, err = tbl.Insert(1, 0)
	require.NoError(t, err)
	_, err = tbl.Insert(2, 1)
	require.NoError(t, err)
	_, err = tbl.Insert(3, 2)
	assert.ErrorIs(t, err, ErrTableFull)

	_, err = tbl.Insert(4, EmptyDoc)
	assert.ErrorIs(t, err, ErrInvalidDocID)
}

func TestOpen_ZeroCopy(t *testing.T) {
	tbl, err := New[Key64](10)
	require.NoError(t, err)
	for i := range 10 {
		_, err := tbl.Insert(Key64(i*7), uint32(i))
		require.NoError(t, err)
	}

	buf := tbl.Bytes()
	reopened, err := Open[Key64](buf)
	require.NoError(t, err)
	assert.Equal(t, tbl.BucketCount(), reopened.BucketCount())
	assert.Equal(t, uint64(10), reopened.DocCount())
	assert.Same(t, &buf[0], &reopened.Bytes()[0])

	for i := range 10 {
		got, ok := reopened.Find(Key64(i * 7))
		require.True(t, ok)
		assert.Equal(t, uint32(i), got)
	}

	_, err = Open[Key128](buf)
	assert.ErrorIs(t, err, ErrInvalidBuffer)
	_, err = Open[Key64](buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrInvalidBuffer)
	_, err = Open[Key64](buf[:8])
	assert.ErrorIs(t, err, ErrInvalidBuffer)
}

func TestForEach(t *testing.T) {
	tbl, err := New[Key64](3)
	require.NoError(t, err)
	for i := range 3 {
		_, err := tbl.Insert(Key64(100+i), uint32(i))
		require.NoError(t, err)
	}

	got := make(map[Key64]uint32)
	tbl.ForEach(func(k Key64, doc uint32) bool {
		got[k] = doc
		return true
	})
	assert.Equal(t, map[Key64]uint32{100: 0, 101: 1, 102: 2}, got)

	calls := 0
	tbl.ForEach(func(Key64, uint32) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
}

func TestFile_RoundTrip(t *testing.T) {
	root := t.TempDir()
	dir := fs.NewLocalDirectory(nil, root)

	src, err := NewMapped[Key64](100)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()
	for i := range 100 {
		_, err := src.Insert(Key64(i), uint32(99-i))
		require.NoError(t, err)
	}
	require.NoError(t, WriteFile(dir, "pk", src.Table))

	names, err := dir.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"pk"}, names)

	m, err := OpenFile[Key64](filepath.Join(root, "pk"))
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	assert.Equal(t, src.Bytes(), m.Bytes())
	got, ok := m.Find(42)
	require.True(t, ok)
	assert.Equal(t, uint32(57), got)

	loaded, err := ReadFile[Key64](dir, "pk")
	require.NoError(t, err)
	assert.Equal(t, src.BucketCount(), loaded.BucketCount())
}

func TestFile_BlobDirectory(t *testing.T) {
	dir := fs.NewBlobDirectory(t.Context(), blobstore.NewMemoryStore(), "segment_1")

	tbl, err := New[Key128](2)
	require.NoError(t, err)
	_, err = tbl.Insert(Key128{Lo: 5, Hi: 6}, 1)
	require.NoError(t, err)
	require.NoError(t, WriteFile(dir, "pk", tbl))

	loaded, err := ReadFile[Key128](dir, "pk")
	require.NoError(t, err)
	got, ok := loaded.Find(Key128{Lo: 5, Hi: 6})
	require.True(t, ok)
	assert.Equal(t, uint32(1), got)
}
