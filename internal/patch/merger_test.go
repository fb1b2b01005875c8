package patch

import (
	"slices"
	"sync"
	"testing"

	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/internal/deletion"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
fields:
  - {id: 1, name: price, type: int64, updatable: true}
  - {id: 2, name: title, type: string, updatable: true}
  - {id: 3, name: stock, type: uint64, updatable: true}
  - {id: 4, name: color, type: string}
  - {id: 5, name: tag, updatable: true, sub_entity: true}
pack_groups:
  - {id: 100, name: inventory, fields: [3, 4]}
`

func testSchemaT(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	return s
}

func column(t *testing.T, s *schema.Schema, field model.FieldID) schema.Column {
	t.Helper()
	col, ok := s.ColumnOf(field)
	require.True(t, ok)
	return col
}

func newSegment(t *testing.T, root fs.Directory, info segment.Info) *segment.Segment {
	t.Helper()
	dir := root.Sub(segment.DirName(info.ID))
	require.NoError(t, segment.WriteInfo(dir, info))
	seg, err := segment.Open(dir)
	require.NoError(t, err)
	return seg
}

type single struct {
	doc model.LocalDocID
	val string
}

func writeSingle(t *testing.T, seg *segment.Segment, col schema.Column, version model.Version, recs ...single) {
	t.Helper()
	w, err := CreateNext(seg.Dir, col, version, compress.None)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r.doc, []byte(r.val)))
	}
	require.NoError(t, w.Close())
}

type packed struct {
	doc    model.LocalDocID
	bitmap uint32
	vals   []string
}

func writePacked(t *testing.T, seg *segment.Segment, col schema.Column, version model.Version, recs ...packed) {
	t.Helper()
	w, err := CreateNext(seg.Dir, col, version, compress.ZSTD)
	require.NoError(t, err)
	for _, r := range recs {
		vals := make([][]byte, len(r.vals))
		for i, v := range r.vals {
			vals[i] = []byte(v)
		}
		require.NoError(t, w.WritePacked(r.doc, r.bitmap, vals))
	}
	require.NoError(t, w.Close())
}

func drainStream(t *testing.T, s *Stream) []Entry {
	t.Helper()
	var out []Entry
	for s.HasNext() {
		e, err := s.Next()
		require.NoError(t, err)
		e.Value = slices.Clone(e.Value)
		out = append(out, e)
	}
	return out
}

func TestStream_GenerationsLastWins(t *testing.T) {
	sch := testSchemaT(t)
	root := fs.NewLocalDirectory(nil, t.TempDir())
	seg := newSegment(t, root, segment.Info{ID: 1, DocCount: 10})
	col := column(t, sch, 1)

	writeSingle(t, seg, col, 1, single{1, "a"}, single{3, "b"})
	writeSingle(t, seg, col, 2, single{3, "c"}, single{5, "dd"})

	s, err := OpenStream(seg, col)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, KindSingle, s.Kind())
	assert.Equal(t, 2, s.SizeHint())

	assert.Equal(t, []Entry{
		{Doc: 1, FieldID: 1, Value: []byte("a")},
		{Doc: 3, FieldID: 1, Value: []byte("c")},
		{Doc: 5, FieldID: 1, Value: []byte("dd")},
	}, drainStream(t, s))
}

func TestStream_PackedOverlayAndVersionSkip(t *testing.T) {
	sch := testSchemaT(t)
	root := fs.NewLocalDirectory(nil, t.TempDir())
	seg := newSegment(t, root, segment.Info{ID: 1, DocCount: 10, LastLoadedVersion: 5})
	col := column(t, sch, 3)

	// Already materialized.
	writePacked(t, seg, col, 5, packed{0, 0b11, []string{"old", "old"}})
	writePacked(t, seg, col, 6, packed{2, 0b11, []string{"x", "y"}}, packed{4, 0b01, []string{"s"}})
	writePacked(t, seg, col, 7, packed{2, 0b10, []string{"z"}})

	s, err := OpenStream(seg, col)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, KindPacked, s.Kind())

	assert.Equal(t, []Entry{
		{Doc: 2, FieldID: 3, Value: []byte("x")},
		{Doc: 2, FieldID: 4, Value: []byte("z")},
		{Doc: 4, FieldID: 3, Value: []byte("s")},
	}, drainStream(t, s))
}

func TestStream_SingleIgnoresLastLoadedVersion(t *testing.T) {
	sch := testSchemaT(t)
	root := fs.NewLocalDirectory(nil, t.TempDir())
	seg := newSegment(t, root, segment.Info{ID: 1, DocCount: 10, LastLoadedVersion: 5})
	col := column(t, sch, 1)
	writeSingle(t, seg, col, 1, single{0, "v"})

	s, err := OpenStream(seg, col)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Len(t, drainStream(t, s), 1)
}

func TestStream_Errors(t *testing.T) {
	sch := testSchemaT(t)
	root := fs.NewLocalDirectory(nil, t.TempDir())

	seg := newSegment(t, root, segment.Info{ID: 1, DocCount: 2})
	writeSingle(t, seg, column(t, sch, 1), 1, single{7, "v"})
	_, err := OpenStream(seg, column(t, sch, 1))
	assert.ErrorIs(t, err, ErrCorruptRecord)

	seg = newSegment(t, root, segment.Info{ID: 2, DocCount: 2})
	w, err := Create(seg.Dir, segment.PatchFile(2, false, 0), Header{ID: 1})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = OpenStream(seg, column(t, sch, 2))
	assert.ErrorIs(t, err, ErrMalformedHeader)

	// A bad later generation releases the readers opened before it.
	seg = newSegment(t, root, segment.Info{ID: 3, DocCount: 2})
	writeSingle(t, seg, column(t, sch, 1), 1, single{0, "a"})
	writeSingle(t, seg, column(t, sch, 1), 2, single{5, "b"})
	s, err := OpenStream(seg, column(t, sch, 1))
	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.Nil(t, s)

	assert.NoError(t, (*Stream)(nil).Close())
}

// mergeFixture builds two segments with patches on fields 1, 2 and group 100.
func mergeFixture(t *testing.T) (PartitionState, []*segment.Segment) {
	t.Helper()
	sch := testSchemaT(t)
	root := fs.NewLocalDirectory(nil, t.TempDir())
	s1 := newSegment(t, root, segment.Info{ID: 10, DocCount: 4})
	s2 := newSegment(t, root, segment.Info{ID: 20, DocCount: 3})

	writeSingle(t, s1, column(t, sch, 1), 1, single{0, "p0"}, single{2, "p2"})
	writeSingle(t, s1, column(t, sch, 2), 1, single{2, "t2"}, single{3, "t3"})
	writePacked(t, s1, column(t, sch, 3), 1, packed{1, 0b11, []string{"s1", "c1"}})
	writeSingle(t, s2, column(t, sch, 1), 1, single{0, "q0"}, single{1, "q1"})
	writeSingle(t, s2, column(t, sch, 1), 2, single{1, "q1'"})
	writeSingle(t, s2, column(t, sch, 5), 1, single{2, "sub"})

	return PartitionState{Schema: sch, Segments: []*segment.Segment{s1, s2}}, []*segment.Segment{s1, s2}
}

type collected struct {
	seg   model.SegmentID
	field model.FieldID
	group model.FieldID
	old   model.LocalDocID
	new   model.DocID
	val   string
}

func collect(out *[]collected, mu *sync.Mutex) Sink {
	return SinkFunc(func(r *model.PatchRecord) error {
		if mu != nil {
			mu.Lock()
			defer mu.Unlock()
		}
		*out = append(*out, collected{r.SegmentID, r.FieldID, r.GroupID, r.OldDocID, r.NewDocID, string(r.Value)})
		return nil
	})
}

func TestMerger_GlobalOrder(t *testing.T) {
	state, _ := mergeFixture(t)
	m := NewMerger(state, false)
	require.NoError(t, m.Init())
	defer func() { _ = m.Close() }()
	assert.Equal(t, 4, m.Streams())
	assert.Equal(t, 3, m.SizeHint())

	var rec model.PatchRecord
	assert.ErrorIs(t, m.Next(&rec), ErrNotReserved)
	assert.False(t, m.HasNext())

	require.NoError(t, m.Reserve(make([]byte, 0, 1)))
	var got []collected
	sink := collect(&got, nil)
	for m.HasNext() {
		require.NoError(t, m.Next(&rec))
		require.NoError(t, sink.WritePatch(&rec))
	}

	assert.Equal(t, []collected{
		{10, 1, 1, 0, 0, "p0"},
		{10, 3, 100, 1, 1, "s1"},
		{10, 4, 100, 1, 1, "c1"},
		{10, 1, 1, 2, 2, "p2"},
		{10, 2, 2, 2, 2, "t2"},
		{10, 2, 2, 3, 3, "t3"},
		{20, 1, 1, 0, 4, "q0"},
		{20, 1, 1, 1, 5, "q1'"},
	}, got)

	_, err := m.WorkItems()
	assert.ErrorIs(t, err, ErrStarted)
}

func TestMerger_ReclaimMap(t *testing.T) {
	state, segs := mergeFixture(t)
	rmap, err := reclaim.Build(segment.Descriptors(segment.Infos(segs)), []reclaim.Deletions{
		deletion.BitmapOf(2), deletion.BitmapOf(0),
	})
	require.NoError(t, err)

	m := NewMerger(state, false, WithReclaimMap(rmap))
	require.NoError(t, m.Init())
	defer func() { _ = m.Close() }()

	var got []collected
	n, err := m.MergeAll(collect(&got, nil))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []collected{
		{10, 1, 1, 0, 0, "p0"},
		{10, 3, 100, 1, 1, "s1"},
		{10, 4, 100, 1, 1, "c1"},
		{10, 2, 2, 3, 2, "t3"},
		{20, 1, 1, 1, 3, "q1'"},
	}, got)
}

func TestMerger_SubEntity(t *testing.T) {
	state, _ := mergeFixture(t)
	m := NewMerger(state, true)
	require.NoError(t, m.Init())
	defer func() { _ = m.Close() }()

	var got []collected
	_, err := m.MergeAll(collect(&got, nil))
	require.NoError(t, err)
	assert.Equal(t, []collected{{20, 5, 5, 2, 6, "sub"}}, got)
}

func TestMerger_WorkItemsMatchSequential(t *testing.T) {
	byField := func(recs []collected) map[model.FieldID][]collected {
		out := make(map[model.FieldID][]collected)
		for _, r := range recs {
			out[r.field] = append(out[r.field], r)
		}
		return out
	}

	state, _ := mergeFixture(t)
	seq := NewMerger(state, false)
	require.NoError(t, seq.Init())
	var sequential []collected
	_, err := seq.MergeAll(collect(&sequential, nil))
	require.NoError(t, err)
	require.NoError(t, seq.Close())

	state, _ = mergeFixture(t)
	par := NewMerger(state, false)
	require.NoError(t, par.Init())
	items, err := par.WorkItems()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, model.FieldID(1), items[0].Column().ID)
	assert.Equal(t, 0, par.Streams())

	var (
		mu       sync.Mutex
		parallel []collected
		wg       sync.WaitGroup
	)
	for i := len(items) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(wi *WorkItem) {
			defer wg.Done()
			_, err := wi.Run(collect(&parallel, &mu))
			assert.NoError(t, err)
		}(items[i])
	}
	wg.Wait()

	assert.Equal(t, byField(sequential), byField(parallel))
	assert.ErrorIs(t, par.Reserve(nil), ErrStarted)
}

func TestMerger_CorruptPropagates(t *testing.T) {
	sch := testSchemaT(t)
	root := fs.NewLocalDirectory(nil, t.TempDir())
	seg := newSegment(t, root, segment.Info{ID: 1, DocCount: 10})
	col := column(t, sch, 1)
	writeSingle(t, seg, col, 1, single{0, "a"}, single{1, "b"})

	// Truncate the body of the only generation.
	name := segment.PatchFile(1, false, 0)
	data, err := fs.ReadAll(seg.Dir, name)
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile(seg.Dir, name, data[:len(data)-1]))

	m := NewMerger(PartitionState{Schema: sch, Segments: []*segment.Segment{seg}}, false)
	require.NoError(t, m.Init())
	defer func() { _ = m.Close() }()

	items, err := m.WorkItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	n, err := items[0].Run(SinkFunc(func(*model.PatchRecord) error { return nil }))
	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.Zero(t, n)
}
