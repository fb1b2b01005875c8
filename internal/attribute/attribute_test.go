package attribute

import (
	"math"
	"testing"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	plainCol  = schema.Column{ID: 1, Fields: []model.FieldID{1}}
	packedCol = schema.Column{ID: 100, Packed: true, Fields: []model.FieldID{3, 4}}
)

func TestColumn_RoundTrip(t *testing.T) {
	dirs := map[string]fs.Directory{
		"local": fs.NewLocalDirectory(nil, t.TempDir()),
		"blob":  fs.NewBlobDirectory(t.Context(), blobstore.NewMemoryStore(), "segment_1"),
	}
	for name, dir := range dirs {
		t.Run(name, func(t *testing.T) {
			c := NewColumn(packedCol, 3)
			require.NoError(t, c.Set(0, 3, []byte("a")))
			require.NoError(t, c.Set(2, 4, []byte("zz")))
			require.NoError(t, Write(dir, c))

			got, err := Read(dir, packedCol, 3)
			require.NoError(t, err)
			assert.Equal(t, 3, got.Len())

			v, err := got.Get(0, 3)
			require.NoError(t, err)
			assert.Equal(t, "a", string(v))
			v, err = got.Get(2, 4)
			require.NoError(t, err)
			assert.Equal(t, "zz", string(v))
			v, err = got.Get(1, 3)
			require.NoError(t, err)
			assert.Empty(t, v)

			_, err = Read(dir, packedCol, 4)
			assert.ErrorIs(t, err, ErrInvalidColumn)
		})
	}
}

func TestColumn_Missing(t *testing.T) {
	dir := fs.NewLocalDirectory(nil, t.TempDir())
	c, err := Read(dir, plainCol, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())

	_, err = c.Get(5, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = c.Get(0, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, c.Set(0, 9, nil), ErrOutOfRange)
}

func TestSequentialWriter(t *testing.T) {
	w := NewSequentialWriter(packedCol, 2)
	assert.ErrorIs(t, w.Append(1, nil), ErrNonContiguous)
	require.NoError(t, w.Append(0, [][]byte{[]byte("s0"), []byte("c0")}))

	_, err := w.Column()
	assert.ErrorIs(t, err, ErrNonContiguous)

	require.NoError(t, w.Append(1, [][]byte{[]byte("s1")}))
	assert.ErrorIs(t, w.Append(2, nil), ErrOutOfRange)
	assert.Equal(t, 2, w.Appended())

	require.NoError(t, w.WritePatch(&model.PatchRecord{FieldID: 4, NewDocID: 1, Value: []byte("c1")}))
	assert.ErrorIs(t, w.WritePatch(&model.PatchRecord{FieldID: 4, NewDocID: model.InvalidDocID}), ErrOutOfRange)

	c, err := w.Column()
	require.NoError(t, err)
	vals, err := c.Values(1)
	require.NoError(t, err)
	assert.Equal(t, "s1", string(vals[0]))
	assert.Equal(t, "c1", string(vals[1]))

	dir := fs.NewLocalDirectory(nil, t.TempDir())
	require.NoError(t, w.Flush(dir))
	ok, err := dir.Exists("pack_100")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPatchIdempotent(t *testing.T) {
	patches := []model.PatchRecord{
		{FieldID: 1, NewDocID: 0, Value: []byte("x")},
		{FieldID: 1, NewDocID: 2, Value: []byte("y")},
		{FieldID: 1, NewDocID: 0, Value: []byte("z")},
	}
	build := func(rounds int) *Column {
		w := NewSequentialWriter(plainCol, 3)
		for i := range 3 {
			require.NoError(t, w.Append(model.DocID(i), [][]byte{[]byte("base")}))
		}
		for range rounds {
			for i := range patches {
				require.NoError(t, w.WritePatch(&patches[i]))
			}
		}
		c, err := w.Column()
		require.NoError(t, err)
		return c
	}

	once, twice := build(1), build(2)
	for doc := range 3 {
		a, err := once.Get(doc, 1)
		require.NoError(t, err)
		b, err := twice.Get(doc, 1)
		require.NoError(t, err)
		assert.Equal(t, a, b, "doc %d", doc)
	}
	v, _ := once.Get(0, 1)
	assert.Equal(t, "z", string(v))
}

func TestCompare(t *testing.T) {
	tests := []struct {
		typ  schema.Type
		a, b []byte
		want int
	}{
		{schema.TypeInt64, EncodeInt64(-5), EncodeInt64(3), -1},
		{schema.TypeInt64, EncodeInt64(7), EncodeInt64(7), 0},
		{schema.TypeUint64, EncodeUint64(math.MaxUint64), EncodeUint64(1), 1},
		{schema.TypeFloat64, EncodeFloat64(-0.5), EncodeFloat64(0.25), -1},
		{schema.TypeInt64, nil, EncodeInt64(math.MinInt64), -1},
		{schema.TypeInt64, nil, nil, 0},
		{schema.TypeString, []byte("abc"), []byte("abd"), -1},
		{schema.TypeBytes, []byte{2}, []byte{1, 9}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.typ, tt.a, tt.b), "%s %v %v", tt.typ, tt.a, tt.b)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		typ  schema.Type
		in   string
		want string
	}{
		{schema.TypeInt64, "-42", "-42"},
		{schema.TypeUint64, "42", "42"},
		{schema.TypeFloat64, "1.5", "1.5"},
		{schema.TypeString, "hi", `"hi"`},
		{schema.TypeBytes, "é", `"\u00e9"`},
	}
	for _, tt := range tests {
		v, err := Parse(tt.typ, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, Format(tt.typ, v))
	}

	_, err := Parse(schema.TypeInt64, "x")
	assert.Error(t, err)
	assert.Equal(t, `"abc"`, Format(schema.TypeInt64, []byte("abc")))
}
