package attribute

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

const (
	magic   = 0x534d4143 // "SMAC"
	version = 1
)

var (
	// ErrNonContiguous is returned when values arrive out of new-id order.
	ErrNonContiguous = errors.New("attribute: non-contiguous doc id")
	// ErrOutOfRange is returned for a doc or field outside the column.
	ErrOutOfRange = errors.New("attribute: out of range")
	// ErrInvalidColumn is returned when a column file does not match its schema.
	ErrInvalidColumn = errors.New("attribute: invalid column")
)

// Column is an in-memory attribute column.
type Column struct {
	col  schema.Column
	docs int
	// vals holds docs*len(col.Fields) values, doc-major.
	vals [][]byte
}

// NewColumn returns a column of docs empty values.
func NewColumn(col schema.Column, docs int) *Column {
	return &Column{col: col, docs: docs, vals: make([][]byte, docs*len(col.Fields))}
}

// Schema returns the column definition.
func (c *Column) Schema() schema.Column { return c.col }

// Len returns the number of documents.
func (c *Column) Len() int { return c.docs }

func (c *Column) index(doc int, sub int) (int, error) {
	if doc < 0 || doc >= c.docs || sub < 0 || sub >= len(c.col.Fields) {
		return 0, fmt.Errorf("%w: doc %d sub-field %d in column %d", ErrOutOfRange, doc, sub, c.col.ID)
	}
	return doc*len(c.col.Fields) + sub, nil
}

// Get returns the value of field in doc.
func (c *Column) Get(doc int, field model.FieldID) ([]byte, error) {
	sub, ok := c.col.SubFieldIndex(field)
	if !ok {
		return nil, fmt.Errorf("%w: field %d not in column %d", ErrOutOfRange, field, c.col.ID)
	}
	i, err := c.index(doc, sub)
	if err != nil {
		return nil, err
	}
	return c.vals[i], nil
}

// Values returns the values of doc in member order. The slice aliases the column.
func (c *Column) Values(doc int) ([][]byte, error) {
	i, err := c.index(doc, 0)
	if err != nil {
		return nil, err
	}
	return c.vals[i : i+len(c.col.Fields)], nil
}

// Set stores a copy of value for field in doc.
func (c *Column) Set(doc int, field model.FieldID, value []byte) error {
	sub, ok := c.col.SubFieldIndex(field)
	if !ok {
		return fmt.Errorf("%w: field %d not in column %d", ErrOutOfRange, field, c.col.ID)
	}
	i, err := c.index(doc, sub)
	if err != nil {
		return err
	}
	c.vals[i] = bytes.Clone(value)
	return nil
}

// Size returns the approximate payload size in bytes.
func (c *Column) Size() int64 {
	var n int64
	for _, v := range c.vals {
		n += int64(len(v)) + 4
	}
	return n
}

// Write stores c in its column file in dir.
func Write(dir fs.Directory, c *Column) error {
	pb := frame.NewBuffer(make([]byte, 0, 16+int(c.Size())))
	pb.WriteUint32(uint32(c.col.ID))
	var packed uint32
	if c.col.Packed {
		packed = 1
	}
	pb.WriteUint32(packed)
	pb.WriteUint32(uint32(len(c.col.Fields)))
	pb.WriteUint32(uint32(c.docs))
	for _, v := range c.vals {
		pb.WriteBytes(v)
	}
	if err := pb.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := frame.Write(&buf, magic, version, pb.Bytes()); err != nil {
		return err
	}
	return fs.WriteFile(dir, segment.ColumnFile(c.col.ID, c.col.Packed), buf.Bytes())
}

// Read loads the column file of col from dir. A missing file yields docs
// empty values.
func Read(dir fs.Directory, col schema.Column, docs int) (*Column, error) {
	name := segment.ColumnFile(col.ID, col.Packed)
	f, err := dir.OpenForRead(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewColumn(col, docs), nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	_, payload, err := frame.Read(f, magic, version)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", dir.Path(), name, err)
	}
	pb := frame.NewBuffer(payload)
	id := model.FieldID(pb.ReadUint32())
	packed := pb.ReadUint32() == 1
	subs := int(pb.ReadUint32())
	n := int(pb.ReadUint32())
	if err := pb.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidColumn, name, err)
	}
	if id != col.ID || packed != col.Packed || subs != len(col.Fields) || n != docs {
		return nil, fmt.Errorf("%w: %s holds column %d (packed %t, %d fields, %d docs), want %d (packed %t, %d fields, %d docs)",
			ErrInvalidColumn, name, id, packed, subs, n, col.ID, col.Packed, len(col.Fields), docs)
	}

	c := NewColumn(col, docs)
	for i := range c.vals {
		// Values alias the payload, which is owned by this column.
		c.vals[i] = pb.ReadBytes()
	}
	if err := pb.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidColumn, name, err)
	}
	return c, nil
}
