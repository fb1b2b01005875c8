package schema

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/segmerge/model"
	"gopkg.in/yaml.v3"
)

// MaxPackFields is the maximum number of fields in one pack group.
const MaxPackFields = 32

// ErrInvalidSchema is returned when a schema fails validation.
var ErrInvalidSchema = errors.New("invalid schema")

// Type is the value type of a field.
type Type string

const (
	TypeInt64   Type = "int64"
	TypeUint64  Type = "uint64"
	TypeFloat64 Type = "float64"
	TypeString  Type = "string"
	TypeBytes   Type = "bytes"
)

func (t Type) valid() bool {
	switch t {
	case TypeInt64, TypeUint64, TypeFloat64, TypeString, TypeBytes:
		return true
	}
	return false
}

// Field is an attribute field.
type Field struct {
	ID        model.FieldID `yaml:"id" json:"id"`
	Name      string        `yaml:"name" json:"name"`
	Type      Type          `yaml:"type" json:"type"`
	Updatable bool          `yaml:"updatable" json:"updatable"`
	// SubEntity marks fields of nested sub-documents, which are merged in
	// their own partition.
	SubEntity bool `yaml:"sub_entity,omitempty" json:"sub_entity,omitempty"`
}

// PackGroup is a set of fields stored together in one column.
type PackGroup struct {
	ID     model.FieldID   `yaml:"id" json:"id"`
	Name   string          `yaml:"name" json:"name"`
	Fields []model.FieldID `yaml:"fields" json:"fields"`
}

// PrimaryKey names the field holding the primary key and its width in bits.
type PrimaryKey struct {
	Field model.FieldID `yaml:"field" json:"field"`
	Width int           `yaml:"width" json:"width"`
}

// SortField is one component of a sort-merge key.
type SortField struct {
	Field      model.FieldID `yaml:"field" json:"field"`
	Descending bool          `yaml:"descending" json:"descending"`
}

// Column is one physical attribute column: a plain field or a pack group.
type Column struct {
	ID     model.FieldID
	Packed bool
	// Fields lists the member fields in declaration order; a plain column has one.
	Fields []model.FieldID
}

// SubFieldIndex returns the bitmap position of field in the column.
func (c Column) SubFieldIndex(field model.FieldID) (int, bool) {
	for i, f := range c.Fields {
		if f == field {
			return i, true
		}
	}
	return 0, false
}

// Schema is the table schema.
type Schema struct {
	Fields     []Field     `yaml:"fields" json:"fields"`
	PackGroups []PackGroup `yaml:"pack_groups" json:"pack_groups"`
	PrimaryKey *PrimaryKey `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	SortBy     []SortField `yaml:"sort_by,omitempty" json:"sort_by,omitempty"`

	fieldIdx map[model.FieldID]int
	groupOf  map[model.FieldID]int
}

// Parse decodes and validates a YAML schema.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a YAML schema from r.
func Load(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadFile reads a YAML schema file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Validate checks the schema and builds its lookup tables.
// It must be called after constructing a Schema by hand.
func (s *Schema) Validate() error {
	s.fieldIdx = make(map[model.FieldID]int, len(s.Fields))
	s.groupOf = make(map[model.FieldID]int)

	for i, f := range s.Fields {
		if _, dup := s.fieldIdx[f.ID]; dup {
			return fmt.Errorf("%w: duplicate field id %d", ErrInvalidSchema, f.ID)
		}
		if f.Type == "" {
			s.Fields[i].Type = TypeBytes
		} else if !f.Type.valid() {
			return fmt.Errorf("%w: field %d has unknown type %q", ErrInvalidSchema, f.ID, f.Type)
		}
		s.fieldIdx[f.ID] = i
	}

	groupIDs := make(map[model.FieldID]struct{}, len(s.PackGroups))
	for gi, g := range s.PackGroups {
		if _, clash := s.fieldIdx[g.ID]; clash {
			return fmt.Errorf("%w: pack group id %d collides with a field id", ErrInvalidSchema, g.ID)
		}
		if _, dup := groupIDs[g.ID]; dup {
			return fmt.Errorf("%w: duplicate pack group id %d", ErrInvalidSchema, g.ID)
		}
		groupIDs[g.ID] = struct{}{}

		if len(g.Fields) == 0 || len(g.Fields) > MaxPackFields {
			return fmt.Errorf("%w: pack group %d must have 1..%d fields, has %d",
				ErrInvalidSchema, g.ID, MaxPackFields, len(g.Fields))
		}
		for _, f := range g.Fields {
			if _, ok := s.fieldIdx[f]; !ok {
				return fmt.Errorf("%w: pack group %d references unknown field %d", ErrInvalidSchema, g.ID, f)
			}
			if s.Fields[s.fieldIdx[f]].SubEntity != s.Fields[s.fieldIdx[g.Fields[0]]].SubEntity {
				return fmt.Errorf("%w: pack group %d mixes entity and sub-entity fields", ErrInvalidSchema, g.ID)
			}
			if other, ok := s.groupOf[f]; ok {
				return fmt.Errorf("%w: field %d is in pack groups %d and %d",
					ErrInvalidSchema, f, s.PackGroups[other].ID, g.ID)
			}
			s.groupOf[f] = gi
		}
	}

	if pk := s.PrimaryKey; pk != nil {
		if _, ok := s.fieldIdx[pk.Field]; !ok {
			return fmt.Errorf("%w: primary key references unknown field %d", ErrInvalidSchema, pk.Field)
		}
		if pk.Width == 0 {
			pk.Width = 64
		}
		if pk.Width != 64 && pk.Width != 128 {
			return fmt.Errorf("%w: primary key width must be 64 or 128, got %d", ErrInvalidSchema, pk.Width)
		}
	}

	for _, sf := range s.SortBy {
		if _, ok := s.fieldIdx[sf.Field]; !ok {
			return fmt.Errorf("%w: sort key references unknown field %d", ErrInvalidSchema, sf.Field)
		}
	}
	return nil
}

// Field returns the field with the given id.
func (s *Schema) Field(id model.FieldID) (Field, bool) {
	i, ok := s.fieldIdx[id]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// UpdatableFields returns the ids of patchable fields in declaration order.
func (s *Schema) UpdatableFields() []model.FieldID {
	var ids []model.FieldID
	for _, f := range s.Fields {
		if f.Updatable {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// PackGroupOf returns the pack group containing field.
func (s *Schema) PackGroupOf(field model.FieldID) (PackGroup, bool) {
	gi, ok := s.groupOf[field]
	if !ok {
		return PackGroup{}, false
	}
	return s.PackGroups[gi], true
}

// ColumnOf returns the physical column that stores field.
func (s *Schema) ColumnOf(field model.FieldID) (Column, bool) {
	if _, ok := s.fieldIdx[field]; !ok {
		return Column{}, false
	}
	if g, ok := s.PackGroupOf(field); ok {
		return Column{ID: g.ID, Packed: true, Fields: g.Fields}, true
	}
	return Column{ID: field, Fields: []model.FieldID{field}}, true
}

// Columns returns every physical column: plain fields in declaration order,
// with each pack group placed at the position of its first member.
func (s *Schema) Columns() []Column {
	var cols []Column
	seen := make(map[model.FieldID]struct{})
	for _, f := range s.Fields {
		col, _ := s.ColumnOf(f.ID)
		if _, ok := seen[col.ID]; ok {
			continue
		}
		seen[col.ID] = struct{}{}
		cols = append(cols, col)
	}
	return cols
}

// UpdatableColumns returns the columns that contain at least one updatable field.
func (s *Schema) UpdatableColumns() []Column {
	var cols []Column
	for _, col := range s.Columns() {
		for _, f := range col.Fields {
			if fld, _ := s.Field(f); fld.Updatable {
				cols = append(cols, col)
				break
			}
		}
	}
	return cols
}

// PartitionColumns returns the updatable columns of the main entity or, with
// subEntity set, of the sub-entity partition.
func (s *Schema) PartitionColumns(subEntity bool) []Column {
	var cols []Column
	for _, col := range s.UpdatableColumns() {
		if fld, _ := s.Field(col.Fields[0]); fld.SubEntity == subEntity {
			cols = append(cols, col)
		}
	}
	return cols
}
