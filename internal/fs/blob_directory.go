package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/hupe1980/segmerge/blobstore"
)

// BlobDirectory implements Directory over a blobstore.BlobStore.
//
// Directories are key prefixes. Renaming or removing a directory touches every
// blob under its prefix. Object stores have no append, so OpenForAppend buffers
// the file in memory and rewrites the whole blob on Close.
//
// The context given at construction is used for every store call.
type BlobDirectory struct {
	ctx    context.Context
	store  blobstore.BlobStore
	prefix string
}

// NewBlobDirectory returns a Directory rooted at prefix inside store.
func NewBlobDirectory(ctx context.Context, store blobstore.BlobStore, prefix string) *BlobDirectory {
	return &BlobDirectory{ctx: ctx, store: store, prefix: cleanName(prefix)}
}

func (d *BlobDirectory) key(name string) string {
	return cleanName(path.Join(d.prefix, name))
}

func (d *BlobDirectory) dirPrefix(name string) string {
	k := d.key(name)
	if k == "" {
		return ""
	}
	return k + "/"
}

// Path returns the key prefix.
func (d *BlobDirectory) Path() string { return d.prefix }

// OpenForRead opens a blob for reading.
func (d *BlobDirectory) OpenForRead(name string) (ReadFile, error) {
	b, err := d.store.Open(d.ctx, d.key(name))
	if err != nil {
		return nil, err
	}
	rf := &blobReadFile{ctx: d.ctx, blob: b, name: name}
	rf.sr = io.NewSectionReader(rf, 0, b.Size())
	return rf, nil
}

// OpenForAppend opens a blob for appending. Existing content is kept.
func (d *BlobDirectory) OpenForAppend(name string) (AppendFile, error) {
	f := &blobAppendFile{dir: d, name: name}
	existing, err := blobstore.ReadAll(d.ctx, d.store, d.key(name))
	switch {
	case err == nil:
		f.buf.Write(existing)
	case errors.Is(err, blobstore.ErrNotFound):
	default:
		return nil, err
	}
	return f, nil
}

// Rename moves a blob, or every blob below a directory prefix.
func (d *BlobDirectory) Rename(from, to string) error {
	err := d.store.Rename(d.ctx, d.key(from), d.key(to))
	if err == nil || !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}

	src := d.dirPrefix(from)
	keys, err := d.store.List(d.ctx, src)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return blobstore.ErrNotFound
	}
	dst := d.dirPrefix(to)
	for _, k := range keys {
		if err := d.store.Rename(d.ctx, k, dst+strings.TrimPrefix(k, src)); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a single blob.
func (d *BlobDirectory) Remove(name string) error {
	ok, err := d.Exists(name)
	if err != nil {
		return err
	}
	if !ok {
		return blobstore.ErrNotFound
	}
	return d.store.Delete(d.ctx, d.key(name))
}

// RemoveAll deletes a blob and every blob below it.
func (d *BlobDirectory) RemoveAll(name string) error {
	if err := d.store.Delete(d.ctx, d.key(name)); err != nil {
		return err
	}
	keys, err := d.store.List(d.ctx, d.dirPrefix(name))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := d.store.Delete(d.ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// List returns the direct children whose names start with prefix.
// Nested blobs are reported by their first path element.
func (d *BlobDirectory) List(prefix string) ([]string, error) {
	base := d.dirPrefix("")
	keys, err := d.store.List(d.ctx, base+prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	var names []string
	for _, k := range keys {
		rel := strings.TrimPrefix(k, base)
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			rel = rel[:i]
		}
		if rel == "" {
			continue
		}
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		names = append(names, rel)
	}
	slices.Sort(names)
	return names, nil
}

// Exists reports whether a blob or a non-empty directory prefix exists.
func (d *BlobDirectory) Exists(name string) (bool, error) {
	b, err := d.store.Open(d.ctx, d.key(name))
	if err == nil {
		_ = b.Close()
		return true, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return false, err
	}
	keys, err := d.store.List(d.ctx, d.dirPrefix(name))
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Sub returns a BlobDirectory rooted at name.
func (d *BlobDirectory) Sub(name string) Directory {
	return &BlobDirectory{ctx: d.ctx, store: d.store, prefix: d.key(name)}
}

type blobReadFile struct {
	ctx  context.Context
	blob blobstore.Blob
	sr   *io.SectionReader
	name string
}

func (f *blobReadFile) Read(p []byte) (int, error) { return f.sr.Read(p) }

func (f *blobReadFile) ReadAt(p []byte, off int64) (int, error) {
	return f.blob.ReadAt(f.ctx, p, off)
}

func (f *blobReadFile) Close() error { return f.blob.Close() }
func (f *blobReadFile) Size() int64  { return f.blob.Size() }
func (f *blobReadFile) Name() string { return f.name }

type blobAppendFile struct {
	dir    *BlobDirectory
	name   string
	buf    bytes.Buffer
	closed bool
}

func (f *blobAppendFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, blobstore.ErrClosed
	}
	return f.buf.Write(p)
}

func (f *blobAppendFile) Sync() error { return nil }

// streamThreshold is the file size from which Close streams through
// BlobStore.Create instead of a single Put.
const streamThreshold = 8 << 20

// aborter is implemented by writable blobs that can discard a partial upload.
type aborter interface {
	Abort() error
}

func (f *blobAppendFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	ctx, store, key := f.dir.ctx, f.dir.store, f.dir.key(f.name)
	if f.buf.Len() < streamThreshold {
		return store.Put(ctx, key, f.buf.Bytes())
	}

	w, err := store.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := f.buf.WriteTo(w); err != nil {
		if a, ok := w.(aborter); ok {
			_ = a.Abort()
		} else {
			_ = w.Close()
		}
		return err
	}
	return w.Close()
}

func (f *blobAppendFile) Name() string { return f.name }
