package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/minio/minio-go/v7"
)

// checksumKey is the user metadata entry holding the CRC32-C of a blob.
const checksumKey = "Segmerge-Crc32c"

// Store keeps segment files as objects of one bucket below a key prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore returns a store writing to bucket below prefix.
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// listPrefix keeps a trailing slash so "tmp/" does not match "tmpx/".
func (s *Store) listPrefix(prefix string) string {
	p := path.Join(s.prefix, prefix)
	if p == "." {
		return ""
	}
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// name maps an object key back to a blob name.
func (s *Store) name(key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
		}
		return nil, err
	}
	return &blob{store: s, key: key, size: info.Size}, nil
}

// Put uploads data with its checksum in the object metadata.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), putOptions(data))
	return err
}

func putOptions(data []byte) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{checksumKey: strconv.FormatUint(uint64(frame.Checksum(data)), 16)},
	}
}

// Create buffers the blob and uploads it on Close. Segment files are
// written once and published by rename, so a single PUT is enough.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return &writer{ctx: ctx, store: s, name: name}, nil
}

// Delete removes a blob. S3 semantics make deleting a missing key succeed.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Rename copies the object server-side and removes the source.
func (s *Store) Rename(ctx context.Context, from, to string) error {
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: s.key(from)}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: s.key(to)}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", from, blobstore.ErrNotFound)
		}
		return err
	}
	return s.client.RemoveObject(ctx, s.bucket, s.key(from), minio.RemoveObjectOptions{})
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	opts := minio.ListObjectsOptions{Prefix: s.listPrefix(prefix), Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.name(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type blob struct {
	store *Store
	key   string
	size  int64
}

func (b *blob) Size() int64  { return b.size }
func (b *blob) Close() error { return nil }

func (b *blob) get(ctx context.Context, off, end int64) (*minio.Object, error) {
	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, end); err != nil {
		return nil, err
	}
	return b.store.client.GetObject(ctx, b.store.bucket, b.key, opts)
}

func (b *blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end, ok := blobstore.ClampRange(b.size, off, int64(len(p)))
	if !ok {
		return 0, io.EOF
	}
	obj, err := b.get(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:end-off+1])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (b *blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	end, ok := blobstore.ClampRange(b.size, off, length)
	if !ok {
		return nil, io.EOF
	}
	return b.get(ctx, off, end)
}

type writer struct {
	ctx    context.Context
	store  *Store
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, blobstore.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *writer) Sync() error { return nil }

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.store.Put(w.ctx, w.name, w.buf.Bytes())
}
