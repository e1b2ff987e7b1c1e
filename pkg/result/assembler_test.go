package result

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchema(t *testing.T) {
	tests := []struct {
		name      string
		fields    []string
		want      []string
		expectErr bool
	}{
		{name: "default fields", fields: []string{"brand", "normalizedBrand", "category"}, want: []string{"brand", "normalizedBrand", "category"}},
		{name: "trims whitespace", fields: []string{" brand ", "category"}, want: []string{"brand", "category"}},
		{name: "empty", fields: nil, expectErr: true},
		{name: "blank name", fields: []string{"brand", "  "}, expectErr: true},
		{name: "duplicate", fields: []string{"brand", "brand"}, expectErr: true},
		{name: "reserved source column", fields: []string{"keyword"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSchema(tt.fields)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidSchema))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Fields())
		})
	}
}

func TestParseSchemaString(t *testing.T) {
	s, err := ParseSchemaString("brand, normalizedBrand,category")
	require.NoError(t, err)
	assert.Equal(t, "brand,normalizedBrand,category", s.String())
	assert.Equal(t, []string{"keyword", "brand", "normalizedBrand", "category"}, s.Columns())

	_, err = ParseSchemaString("   ")
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestAssembler_Assemble_MissingFieldsBecomeEmpty(t *testing.T) {
	a := NewAssembler(DefaultSchema())

	rec := a.Assemble("sony a7", map[string]string{
		"brand":    "Sony",
		"category": "CAMERA",
		"extra":    "ignored",
	})

	assert.Equal(t, "sony a7", rec.Source)
	assert.Equal(t, "Sony", rec.Get("brand"))
	assert.Equal(t, "", rec.Get("normalizedBrand"))
	assert.Equal(t, "CAMERA", rec.Get("category"))
	assert.Len(t, rec.Values, 3)
	assert.NotContains(t, rec.Values, "extra")
	assert.Equal(t, []string{"sony a7", "Sony", "", "CAMERA"}, rec.Row(a.Schema()))
}

func TestAssembler_Empty(t *testing.T) {
	a := NewAssembler(DefaultSchema())
	rec := a.Empty("unknown")

	assert.True(t, rec.IsEmpty())
	assert.Len(t, rec.Values, 3)
	for _, f := range a.Schema().Fields() {
		v, ok := rec.Values[f]
		assert.True(t, ok, "field %s must be materialized", f)
		assert.Equal(t, "", v)
	}
}

func TestAssembler_FromAny(t *testing.T) {
	s, err := ParseSchema([]string{"brand", "year", "used", "meta", "missing"})
	require.NoError(t, err)
	a := NewAssembler(s)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"brand":"TOSHIBA","year":2019,"used":true,"meta":{"a":1}}`), &raw))

	rec := a.FromAny("東芝 冷蔵庫", raw)
	assert.Equal(t, "TOSHIBA", rec.Get("brand"))
	assert.Equal(t, "2019", rec.Get("year"))
	assert.Equal(t, "true", rec.Get("used"))
	assert.Equal(t, "", rec.Get("meta"))
	assert.Equal(t, "", rec.Get("missing"))
	assert.False(t, rec.IsEmpty())
}

func TestAssembler_FromAny_NilResponse(t *testing.T) {
	a := NewAssembler(DefaultSchema())
	rec := a.FromAny("x", nil)
	assert.Equal(t, a.Empty("x"), rec)
}
