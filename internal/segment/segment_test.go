package segment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/codec"
	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/internal/deletion"
	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	assert.Equal(t, "segment_42", DirName(42))
	id, ok := ParseDirName("segment_42")
	require.True(t, ok)
	assert.Equal(t, model.SegmentID(42), id)
	_, ok = ParseDirName("segment_x")
	assert.False(t, ok)
	_, ok = ParseDirName("tmp_1")
	assert.False(t, ok)

	assert.Equal(t, "attr_3", ColumnFile(3, false))
	assert.Equal(t, "pack_100", ColumnFile(100, true))
	assert.Equal(t, "patch_3.2", PatchFile(3, false, 2))
	assert.Equal(t, "patchpack_100.0", PatchFile(100, true, 0))

	p, ok := ParsePatchFile("patchpack_100.7")
	require.True(t, ok)
	assert.Equal(t, PatchFileName{ID: 100, Packed: true, Generation: 7}, p)

	for _, bad := range []string{"patch_3", "patch_a.1", "patch_3.b", "attr_3", "patch_3.1.2"} {
		_, ok := ParsePatchFile(bad)
		assert.False(t, ok, bad)
	}
}

func TestPatchGenerations(t *testing.T) {
	dir := fs.NewLocalDirectory(nil, t.TempDir())
	for _, name := range []string{"patch_3.0", "patch_3.10", "patch_3.2", "patch_4.1", "patchpack_3.5", "attr_3"} {
		require.NoError(t, fs.WriteFile(dir, name, nil))
	}

	gens, err := PatchGenerations(dir, 3, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 10}, gens)

	gens, err = PatchGenerations(dir, 3, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{5}, gens)

	next, err := NextPatchGeneration(dir, 3, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), next)

	next, err = NextPatchGeneration(dir, 9, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), next)
}

func TestInfo_RoundTrip(t *testing.T) {
	dir := fs.NewBlobDirectory(t.Context(), blobstore.NewMemoryStore(), "segment_5")
	in := Info{
		ID:                5,
		DocCount:          100,
		DeletedCount:      3,
		Version:           9,
		LastLoadedVersion: 7,
		CreatedAt:         time.Unix(0, 1_700_000_000_000_000_000),
		MergedFrom:        []model.SegmentID{1, 2},
	}
	require.NoError(t, WriteInfo(dir, in))

	out, err := ReadInfo(dir)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	out.CreatedAt = in.CreatedAt
	assert.Equal(t, in, out)
}

func TestInfo_Invalid(t *testing.T) {
	dir := fs.NewLocalDirectory(nil, t.TempDir())
	err := WriteInfo(dir, Info{DocCount: 1, DeletedCount: 2})
	assert.ErrorIs(t, err, ErrInvalidInfo)

	require.NoError(t, WriteInfo(dir, Info{ID: 1, DocCount: 2}))
	data, err := fs.ReadAll(dir, InfoFile)
	require.NoError(t, err)
	data[frame.HeaderSize] ^= 0x01
	require.NoError(t, fs.WriteFile(dir, InfoFile, data))

	_, err = ReadInfo(dir)
	assert.ErrorIs(t, err, frame.ErrChecksumMismatch)
}

func TestDescriptors(t *testing.T) {
	descs := Descriptors([]Info{
		{ID: 1, DocCount: 10},
		{ID: 2, DocCount: 100, DeletedCount: 4},
		{ID: 3, DocCount: 30},
	})
	require.Len(t, descs, 3)
	assert.Equal(t, model.DocID(0), descs[0].BaseDocID)
	assert.Equal(t, model.DocID(10), descs[1].BaseDocID)
	assert.Equal(t, model.DocID(110), descs[2].BaseDocID)
	assert.Equal(t, uint32(96), descs[1].LiveCount())
}

func TestFormatOptions(t *testing.T) {
	dir := fs.NewLocalDirectory(nil, t.TempDir())

	opts, err := ReadFormatOptions(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultFormatOptions(), opts)

	for _, c := range []codec.Codec{codec.JSON{}, codec.GoJSON{}, codec.YAML{}} {
		in := FormatOptions{PatchCompression: "zstd", PKKeyWidth: 128}
		require.NoError(t, WriteFormatOptions(dir, in, c))

		out, err := ReadFormatOptions(dir)
		require.NoError(t, err)
		assert.Equal(t, in, out)

		ct, err := out.Compression()
		require.NoError(t, err)
		assert.Equal(t, compress.ZSTD, ct)
	}

	assert.Error(t, WriteFormatOptions(dir, FormatOptions{PatchCompression: "brotli", PKKeyWidth: 64}, nil))
	assert.Error(t, WriteFormatOptions(dir, FormatOptions{PKKeyWidth: 32}, nil))

	require.NoError(t, fs.WriteFile(dir, FormatOptionsFile, []byte("msgpack\n{}")))
	_, err = ReadFormatOptions(dir)
	assert.ErrorContains(t, err, "unknown codec")
}

func TestOpen(t *testing.T) {
	root := fs.NewLocalDirectory(nil, t.TempDir())
	for _, id := range []model.SegmentID{1, 2} {
		dir := root.Sub(DirName(id))
		require.NoError(t, WriteInfo(dir, Info{ID: id, DocCount: 10}))
	}
	require.NoError(t, deletion.Write(root.Sub(DirName(2)), deletion.BitmapOf(1, 2)))

	ids, err := ListSegments(root)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{1, 2}, ids)

	segs, err := OpenAll(root, ids)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, uint32(0), segs[0].Info.DeletedCount)
	assert.Equal(t, uint32(2), segs[1].Info.DeletedCount)
	assert.True(t, segs[1].Deletions.Contains(2))
	assert.Equal(t, DefaultFormatOptions(), segs[0].Options)

	infos := Infos(segs)
	assert.Equal(t, model.SegmentID(2), infos[1].ID)

	_, err = OpenAll(root, []model.SegmentID{3})
	assert.Error(t, err)

	// A directory without segment_info is not a segment yet.
	require.NoError(t, fs.WriteFile(root.Sub(DirName(3)), "attr_1", []byte("x")))
	ids, err = ListSegments(root)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{1, 2}, ids)

	removed, err := RemoveUncommitted(root, 3)
	require.NoError(t, err)
	assert.True(t, removed)
	exists, err := root.Exists(DirName(3))
	require.NoError(t, err)
	assert.False(t, exists)

	removed, err = RemoveUncommitted(root, 1)
	require.NoError(t, err)
	assert.False(t, removed)
}

var errRename = errors.New("rename refused")

// renameFailStore refuses renames into prefix once allow of them succeeded.
type renameFailStore struct {
	blobstore.BlobStore
	prefix string
	allow  int
	seen   int
}

func (s *renameFailStore) Rename(ctx context.Context, from, to string) error {
	if strings.HasPrefix(to, s.prefix) {
		s.seen++
		if s.seen > s.allow {
			return errRename
		}
	}
	return s.BlobStore.Rename(ctx, from, to)
}

func writeTmpSegment(t *testing.T, root fs.Directory, tmp string, id model.SegmentID) {
	t.Helper()
	dir := root.Sub(tmp)
	for _, name := range []string{"attr_1", "attr_2", "pk"} {
		require.NoError(t, fs.WriteFile(dir, name, []byte(name)))
	}
	require.NoError(t, WriteInfo(dir, Info{ID: id, DocCount: 1}))
}

func TestPublish(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		root := fs.NewLocalDirectory(nil, t.TempDir())
		writeTmpSegment(t, root, "tmp_a", 7)
		require.NoError(t, Publish(root, "tmp_a", 7))

		ids, err := ListSegments(root)
		require.NoError(t, err)
		assert.Equal(t, []model.SegmentID{7}, ids)
		names, err := root.List("tmp_")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	tests := []struct {
		name   string
		prefix string
		allow  int
	}{
		{"first key", "table/segment_7/", 0},
		{"midway", "table/segment_7/", 2},
		{"commit marker", "table/segment_7/segment_info", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := blobstore.NewMemoryStore()
			root := fs.NewBlobDirectory(ctx, &renameFailStore{BlobStore: mem, prefix: tt.prefix, allow: tt.allow}, "table")
			writeTmpSegment(t, root, "tmp_a", 7)

			err := Publish(root, "tmp_a", 7)
			require.ErrorIs(t, err, errRename)

			committed, err := IsCommitted(root, 7)
			require.NoError(t, err)
			assert.False(t, committed)
			keys, err := mem.List(ctx, "table/segment_7")
			require.NoError(t, err)
			assert.Empty(t, keys)
			markers, err := mem.List(ctx, "table/tmp_a.info")
			require.NoError(t, err)
			assert.Empty(t, markers)
			ids, err := ListSegments(root)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}
