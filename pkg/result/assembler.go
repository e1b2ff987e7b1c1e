package result

import (
	"encoding/json"
	"strconv"
)

// Record is one fully materialized output row. Values holds an entry for
// every schema field, empty when the service omitted it or the call failed.
type Record struct {
	Source string            `json:"keyword"`
	Values map[string]string `json:"values"`
}

// Get returns the value of field, or "" if absent.
func (r Record) Get(field string) string {
	return r.Values[field]
}

// Row returns the record as Source followed by the schema fields in order.
func (r Record) Row(s Schema) []string {
	row := make([]string, 0, s.Len()+1)
	row = append(row, r.Source)
	for _, f := range s.fields {
		row = append(row, r.Values[f])
	}
	return row
}

// IsEmpty reports whether every value is empty.
func (r Record) IsEmpty() bool {
	for _, v := range r.Values {
		if v != "" {
			return false
		}
	}
	return true
}

// Assembler builds records for one schema.
type Assembler struct {
	schema Schema
}

// NewAssembler creates an assembler for schema.
func NewAssembler(schema Schema) *Assembler {
	return &Assembler{schema: schema}
}

// Schema returns the assembler's schema.
func (a *Assembler) Schema() Schema {
	return a.schema
}

// Empty returns the all-empty default record for item.
func (a *Assembler) Empty(item string) Record {
	values := make(map[string]string, a.schema.Len())
	for _, f := range a.schema.fields {
		values[f] = ""
	}
	return Record{Source: item, Values: values}
}

// Assemble extracts every schema field from a string-valued response.
// Missing fields become "", extra fields are dropped.
func (a *Assembler) Assemble(item string, resp map[string]string) Record {
	rec := a.Empty(item)
	for _, f := range a.schema.fields {
		rec.Values[f] = resp[f]
	}
	return rec
}

// FromAny extracts every schema field from a decoded JSON object.
// Strings pass through, numbers and booleans are formatted, null and
// nested values become "".
func (a *Assembler) FromAny(item string, resp map[string]any) Record {
	rec := a.Empty(item)
	for _, f := range a.schema.fields {
		rec.Values[f] = stringify(resp[f])
	}
	return rec
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
