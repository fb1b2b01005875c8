package s3

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/frame"
)

// UploadConfig tunes the multipart uploads behind Create.
type UploadConfig struct {
	// PartSize is the multipart part size in bytes.
	PartSize int64
	// Concurrency is the number of parts uploaded at once.
	Concurrency int
	// EnableChecksum asks S3 to verify every part with CRC32-C.
	EnableChecksum bool
	// LeavePartsOnError keeps the parts of a failed upload.
	LeavePartsOnError bool
}

// DefaultUploadConfig uses 8 MiB parts, five at a time, with checksums.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{PartSize: 8 << 20, Concurrency: 5, EnableChecksum: true}
}

func (c UploadConfig) uploader(client Client) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if c.PartSize > 0 {
			u.PartSize = c.PartSize
		}
		if c.Concurrency > 0 {
			u.Concurrency = c.Concurrency
		}
		u.LeavePartsOnError = c.LeavePartsOnError
	})
}

// checksumCRC32C renders the frame checksum of data the way S3 expects it:
// base64 of the big-endian value.
func checksumCRC32C(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], frame.Checksum(data))
	return base64.StdEncoding.EncodeToString(b[:])
}

// writer pipes writes into a background upload. Abort cancels the upload,
// which makes the uploader abort the multipart upload.
type writer struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error

	closed atomic.Bool
	once   sync.Once
	err    error
}

func newWriter(ctx context.Context, up *manager.Uploader, bucket, key string, checksum bool) *writer {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &writer{pw: pw, cancel: cancel, done: make(chan error, 1)}

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if checksum {
		in.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}
	go func() {
		_, err := up.Upload(ctx, in)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, blobstore.ErrClosed
	}
	return w.pw.Write(p)
}

// Sync is a no-op. Objects are committed by Close.
func (w *writer) Sync() error { return nil }

func (w *writer) Close() error {
	w.finish(func() error {
		if err := w.pw.Close(); err != nil {
			return err
		}
		return <-w.done
	})
	return w.err
}

// Abort discards the upload.
func (w *writer) Abort() error {
	w.finish(func() error {
		w.cancel()
		_ = w.pw.CloseWithError(context.Canceled)
		<-w.done
		return context.Canceled
	})
	return nil
}

func (w *writer) finish(fn func() error) {
	w.once.Do(func() {
		w.closed.Store(true)
		defer w.cancel()
		w.err = fn()
	})
}
