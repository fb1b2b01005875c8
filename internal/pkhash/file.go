package pkhash

import (
	"fmt"
	"io"

	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/mmap"
)

// Mapped is a table whose buffer lives in a memory mapping.
type Mapped[K Key[K]] struct {
	*Table[K]
	m *mmap.Mapping
}

// Close releases the mapping. The table must not be used afterwards.
func (m *Mapped[K]) Close() error {
	return m.m.Close()
}

// NewMapped allocates an empty table sized for docCount keys in anonymous
// memory, keeping large build buffers off the Go heap.
func NewMapped[K Key[K]](docCount int64) (*Mapped[K], error) {
	buckets, err := CapacityFor(docCount)
	if err != nil {
		return nil, err
	}
	m, err := mmap.MapAnon(BufferSize[K](buckets))
	if err != nil {
		return nil, err
	}
	t, err := Init[K](m.Bytes(), buckets, uint64(docCount))
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return &Mapped[K]{Table: t, m: m}, nil
}

// OpenFile maps the table file at path read-only.
func OpenFile[K Key[K]](path string) (*Mapped[K], error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	_ = m.Advise(mmap.AccessRandom)
	t, err := Open[K](m.Bytes())
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Mapped[K]{Table: t, m: m}, nil
}

// ReadFile loads the table stored as name in dir into memory.
func ReadFile[K Key[K]](dir fs.Directory, name string) (*Table[K], error) {
	data, err := fs.ReadAll(dir, name)
	if err != nil {
		return nil, err
	}
	t, err := Open[K](data)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", dir.Path(), name, err)
	}
	return t, nil
}

// WriteFile persists t as name in dir. The table is written to a temporary
// file first and renamed into place after a sync.
func WriteFile[K Key[K]](dir fs.Directory, name string, t *Table[K]) error {
	return writeFile(dir, name, t.Bytes())
}

func writeFile(dir fs.Directory, name string, data []byte) (err error) {
	tmp := name + ".tmp"
	_ = dir.Remove(tmp)
	f, err := dir.OpenForAppend(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = dir.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return dir.Rename(tmp, name)
}

// WriteTo writes the serialized table to w.
func (t *Table[K]) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.buf)
	return int64(n), err
}
