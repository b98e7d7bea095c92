package octoframe

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

type SchemaField struct {
	Name string
	Type Type
}

// Schema is an ordered mapping from column names to types.
type Schema struct {
	Fields []SchemaField
}

func NewSchema(fields ...SchemaField) Schema {
	return Schema{Fields: fields}
}

// FieldIndex returns the index of the named field, or -1.
func (s Schema) FieldIndex(name string) int {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) Field(name string) (SchemaField, error) {
	i := s.FieldIndex(name)
	if i == -1 {
		return SchemaField{}, NewSchemaError("unknown column '%s', available columns: %s", name, strings.Join(s.Names(), ", "))
	}
	return s.Fields[i], nil
}

func (s Schema) Has(name string) bool {
	return s.FieldIndex(name) != -1
}

func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i := range s.Fields {
		out[i] = s.Fields[i].Name
	}
	return out
}

func (s Schema) Len() int {
	return len(s.Fields)
}

// Validate checks that field names are unique.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for _, field := range s.Fields {
		if _, ok := seen[field.Name]; ok {
			return NewSchemaError("duplicate column name '%s'", field.Name)
		}
		seen[field.Name] = struct{}{}
	}
	return nil
}

func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i].Name != other.Fields[i].Name || !s.Fields[i].Type.Equal(other.Fields[i].Type) {
			return false
		}
	}
	return true
}

// Select returns the subschema with the given names, in the given order.
func (s Schema) Select(names ...string) (Schema, error) {
	out := make([]SchemaField, len(names))
	for i, name := range names {
		field, err := s.Field(name)
		if err != nil {
			return Schema{}, err
		}
		out[i] = field
	}
	return Schema{Fields: out}, nil
}

func (s Schema) ArrowSchema() *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i := range s.Fields {
		fields[i] = arrow.Field{
			Name:     s.Fields[i].Name,
			Type:     s.Fields[i].Type.ArrowType(),
			Nullable: true,
		}
	}
	return arrow.NewSchema(fields, nil)
}

func SchemaFromArrow(schema *arrow.Schema) (Schema, error) {
	out := make([]SchemaField, len(schema.Fields()))
	for i, field := range schema.Fields() {
		t, err := TypeFromArrow(field.Type)
		if err != nil {
			return Schema{}, fmt.Errorf("couldn't map type of field '%s': %w", field.Name, err)
		}
		out[i] = SchemaField{Name: field.Name, Type: t}
	}
	return Schema{Fields: out}, nil
}

func (s Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i := range s.Fields {
		parts[i] = fmt.Sprintf("%s: %s", s.Fields[i].Name, s.Fields[i].Type)
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ", "))
}
