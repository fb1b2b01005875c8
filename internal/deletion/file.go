package deletion

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/fs"
)

// FileName is the name of the deletion bitmap file in a segment directory.
const FileName = "deletionmap"

const (
	fileMagic   = 0x534d444c // "SMDL"
	fileVersion = 1
)

// Write stores b as the deletion map of the segment directory dir.
func Write(dir fs.Directory, b *Bitmap) error {
	if b == nil {
		b = NewBitmap()
	}
	var payload bytes.Buffer
	if _, err := b.WriteTo(&payload); err != nil {
		return fmt.Errorf("encode deletion map: %w", err)
	}

	var buf bytes.Buffer
	if err := frame.Write(&buf, fileMagic, fileVersion, payload.Bytes()); err != nil {
		return err
	}
	return fs.WriteFile(dir, FileName, buf.Bytes())
}

// Read loads the deletion map of the segment directory dir.
// A segment without a deletion map has no deletions and yields an empty bitmap.
func Read(dir fs.Directory) (*Bitmap, error) {
	f, err := dir.OpenForRead(FileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewBitmap(), nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	_, payload, err := frame.Read(f, fileMagic, fileVersion)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", dir.Path(), FileName, err)
	}

	b := NewBitmap()
	if _, err := b.ReadFrom(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", dir.Path(), FileName, err)
	}
	return b, nil
}
