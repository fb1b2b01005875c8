package fs

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ReadFile is a file opened for sequential and random reads.
type ReadFile interface {
	io.Reader
	io.ReaderAt
	io.Closer
	// Size returns the file size in bytes.
	Size() int64
	// Name returns the name the file was opened with.
	Name() string
}

// AppendFile is a file opened for append-only writes.
type AppendFile interface {
	io.Writer
	io.Closer
	Sync() error
	Name() string
}

// Directory is the storage capability used by segment readers and writers.
//
// Names are slash-separated and relative to the directory. A name may refer to
// a file or to a nested directory; Rename and RemoveAll work on both, which is
// how a temporary output segment is published or discarded.
type Directory interface {
	OpenForRead(name string) (ReadFile, error)
	OpenForAppend(name string) (AppendFile, error)
	// Rename moves a file or a directory. It replaces an existing file at to.
	Rename(from, to string) error
	Remove(name string) error
	RemoveAll(name string) error
	// List returns the names of the direct children whose names start with prefix.
	List(prefix string) ([]string, error)
	Exists(name string) (bool, error)
	// Sub returns a Directory rooted at name.
	Sub(name string) Directory
	// Path returns a printable location of the directory.
	Path() string
}

// ReadAll reads a whole file of dir.
func ReadAll(dir Directory, name string) ([]byte, error) {
	f, err := dir.OpenForRead(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, f.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFile creates (or truncates) name and writes data to it.
func WriteFile(dir Directory, name string, data []byte) error {
	if err := dir.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	f, err := dir.OpenForAppend(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LocalDirectory implements Directory over a FileSystem rooted at a path.
type LocalDirectory struct {
	fsys FileSystem
	root string
}

// NewLocalDirectory returns a Directory rooted at root. A nil fsys uses Default.
func NewLocalDirectory(fsys FileSystem, root string) *LocalDirectory {
	if fsys == nil {
		fsys = Default
	}
	return &LocalDirectory{fsys: fsys, root: root}
}

func (d *LocalDirectory) path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(name))
}

// FileSystem returns the underlying file system.
func (d *LocalDirectory) FileSystem() FileSystem { return d.fsys }

// Path returns the root path.
func (d *LocalDirectory) Path() string { return d.root }

// OpenForRead opens name for reading.
func (d *LocalDirectory) OpenForRead(name string) (ReadFile, error) {
	f, err := d.fsys.OpenFile(d.path(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localReadFile{File: f, name: name, size: info.Size()}, nil
}

// OpenForAppend opens name for appending, creating it and its parents if needed.
func (d *LocalDirectory) OpenForAppend(name string) (AppendFile, error) {
	p := d.path(name)
	if err := d.fsys.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	f, err := d.fsys.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &localAppendFile{File: f, name: name}, nil
}

// Rename moves from to to and syncs the parent directory of to.
func (d *LocalDirectory) Rename(from, to string) error {
	dst := d.path(to)
	if err := d.fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := d.fsys.Rename(d.path(from), dst); err != nil {
		return err
	}
	return SyncDir(d.fsys, filepath.Dir(dst))
}

// Remove removes a file or an empty directory.
func (d *LocalDirectory) Remove(name string) error {
	return d.fsys.Remove(d.path(name))
}

// RemoveAll removes name and everything below it.
func (d *LocalDirectory) RemoveAll(name string) error {
	return d.fsys.RemoveAll(d.path(name))
}

// List returns the sorted names of entries whose names start with prefix.
// A missing directory lists as empty.
func (d *LocalDirectory) List(prefix string) ([]string, error) {
	entries, err := d.fsys.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether name exists.
func (d *LocalDirectory) Exists(name string) (bool, error) {
	_, err := d.fsys.Stat(d.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Sub returns a LocalDirectory rooted at name.
func (d *LocalDirectory) Sub(name string) Directory {
	return &LocalDirectory{fsys: d.fsys, root: d.path(name)}
}

type localReadFile struct {
	File
	name string
	size int64
}

func (f *localReadFile) Size() int64  { return f.size }
func (f *localReadFile) Name() string { return f.name }

type localAppendFile struct {
	File
	name string
}

func (f *localAppendFile) Name() string { return f.name }

// cleanName normalizes a slash-separated relative name.
func cleanName(name string) string {
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}
