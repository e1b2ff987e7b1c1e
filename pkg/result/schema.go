// Package result maps raw annotation responses into fixed-shape records.
package result

import (
	"errors"
	"fmt"
	"strings"
)

// SourceField is the column name of the annotated item in every exported record.
const SourceField = "keyword"

// Default output fields.
const (
	FieldBrand           = "brand"
	FieldNormalizedBrand = "normalizedBrand"
	FieldCategory        = "category"
)

// ErrInvalidSchema indicates an unusable output schema.
var ErrInvalidSchema = errors.New("invalid output schema")

// Schema is the ordered set of field names every record carries.
type Schema struct {
	fields []string
	index  map[string]int
}

// ParseSchema validates field names: at least one, no blanks, no duplicates,
// and none equal to SourceField.
func ParseSchema(fields []string) (Schema, error) {
	if len(fields) == 0 {
		return Schema{}, fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}

	s := Schema{
		fields: make([]string, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		name := strings.TrimSpace(f)
		if name == "" {
			return Schema{}, fmt.Errorf("%w: blank field name", ErrInvalidSchema)
		}
		if name == SourceField {
			return Schema{}, fmt.Errorf("%w: field %q is reserved", ErrInvalidSchema, SourceField)
		}
		if _, dup := s.index[name]; dup {
			return Schema{}, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, name)
		}
		s.index[name] = len(s.fields)
		s.fields = append(s.fields, name)
	}
	return s, nil
}

// ParseSchemaString parses a comma-separated field list.
func ParseSchemaString(list string) (Schema, error) {
	if strings.TrimSpace(list) == "" {
		return Schema{}, fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}
	return ParseSchema(strings.Split(list, ","))
}

// DefaultSchema returns brand, normalizedBrand, category.
func DefaultSchema() Schema {
	s, err := ParseSchema([]string{FieldBrand, FieldNormalizedBrand, FieldCategory})
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the field names in order.
func (s Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Columns returns SourceField followed by the schema fields.
func (s Schema) Columns() []string {
	return append([]string{SourceField}, s.fields...)
}

// Len returns the number of fields.
func (s Schema) Len() int {
	return len(s.fields)
}

// Has reports whether name is a schema field.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// String returns the comma-separated field list.
func (s Schema) String() string {
	return strings.Join(s.fields, ",")
}
