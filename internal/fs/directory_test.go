package fs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directories(t *testing.T) map[string]Directory {
	t.Helper()
	return map[string]Directory{
		"local":       NewLocalDirectory(nil, t.TempDir()),
		"blob-memory": NewBlobDirectory(t.Context(), blobstore.NewMemoryStore(), "root"),
		"blob-local":  NewBlobDirectory(t.Context(), blobstore.NewLocalStore(t.TempDir()), ""),
	}
}

func TestDirectory_AppendAndRead(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			f, err := dir.OpenForAppend("seg/data")
			require.NoError(t, err)
			_, err = f.Write([]byte("hello "))
			require.NoError(t, err)
			require.NoError(t, f.Close())

			f, err = dir.OpenForAppend("seg/data")
			require.NoError(t, err)
			_, err = f.Write([]byte("world"))
			require.NoError(t, err)
			require.NoError(t, f.Sync())
			require.NoError(t, f.Close())

			rf, err := dir.OpenForRead("seg/data")
			require.NoError(t, err)
			defer rf.Close()

			assert.Equal(t, int64(11), rf.Size())
			assert.Equal(t, "seg/data", rf.Name())

			buf := make([]byte, 5)
			_, err = rf.ReadAt(buf, 6)
			require.NoError(t, err)
			assert.Equal(t, "world", string(buf))

			all, err := io.ReadAll(rf)
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(all))
		})
	}
}

func TestDirectory_RenameDirectoryPublishes(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, WriteFile(dir, "tmp_1/pk", []byte("pk")))
			require.NoError(t, WriteFile(dir, "tmp_1/attr_1", []byte("a")))

			require.NoError(t, dir.Rename("tmp_1", "segment_7"))

			ok, err := dir.Exists("tmp_1")
			require.NoError(t, err)
			assert.False(t, ok)

			names, err := dir.Sub("segment_7").List("")
			require.NoError(t, err)
			assert.Equal(t, []string{"attr_1", "pk"}, names)

			data, err := ReadAll(dir.Sub("segment_7"), "pk")
			require.NoError(t, err)
			assert.Equal(t, "pk", string(data))
		})
	}
}

func TestDirectory_ListAndRemoveAll(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, WriteFile(dir, "segment_1/pk", nil))
			require.NoError(t, WriteFile(dir, "segment_2/pk", nil))
			require.NoError(t, WriteFile(dir, "plan.yaml", []byte("x")))

			names, err := dir.List("segment_")
			require.NoError(t, err)
			assert.Equal(t, []string{"segment_1", "segment_2"}, names)

			require.NoError(t, dir.RemoveAll("segment_1"))
			names, err = dir.List("")
			require.NoError(t, err)
			assert.Equal(t, []string{"plan.yaml", "segment_2"}, names)

			err = dir.Remove("missing")
			assert.True(t, errors.Is(err, os.ErrNotExist))
		})
	}
}

func TestDirectory_WriteFileTruncates(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, WriteFile(dir, "f", []byte("long content")))
			require.NoError(t, WriteFile(dir, "f", []byte("short")))

			data, err := ReadAll(dir, "f")
			require.NoError(t, err)
			assert.Equal(t, "short", string(data))
		})
	}
}

func TestLocalDirectory_RenameFault(t *testing.T) {
	root := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("segment_", Fault{FailOnRename: true, FailAfterBytes: -1, Err: errors.New("rename refused")})
	dir := NewLocalDirectory(ffs, root)

	require.NoError(t, WriteFile(dir, "tmp/pk", []byte("pk")))
	err := dir.Rename("tmp", "segment_1")
	require.EqualError(t, err, "rename refused")

	_, err = os.Stat(filepath.Join(root, "tmp", "pk"))
	assert.NoError(t, err)
}

func TestBlobDirectory_LargeFileStreams(t *testing.T) {
	store := blobstore.NewMemoryStore()
	dir := NewBlobDirectory(t.Context(), store, "table")

	data := bytes.Repeat([]byte{0x5A}, streamThreshold+1)
	require.NoError(t, WriteFile(dir, "segment_1/attr_2", data))

	got, err := blobstore.ReadAll(t.Context(), store, "table/segment_1/attr_2")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
