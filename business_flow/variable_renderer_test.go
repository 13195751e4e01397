package businessflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	mappings := map[string]string{"name": "first_name", "city": "city"}

	tests := []struct {
		name     string
		text     string
		mappings map[string]string
		data     map[string]any
		want     string
	}{
		{
			name: "SubstitutesDeclaredTokens",
			text: "Hi {{name}} from {{city}}",
			data: map[string]any{"first_name": "Sara", "city": "Shiraz"},
			want: "Hi Sara from Shiraz",
		},
		{
			name: "MissingValueRendersEmpty",
			text: "Hi {{name}}!",
			data: map[string]any{},
			want: "Hi !",
		},
		{
			name: "NilValueRendersEmpty",
			text: "Hi {{name}}!",
			data: map[string]any{"first_name": nil},
			want: "Hi !",
		},
		{
			name: "UndeclaredTokenKeptVerbatim",
			text: "Hi {{name}}, code {{coupon}}",
			data: map[string]any{"first_name": "Sara", "coupon": "X1"},
			want: "Hi Sara, code {{coupon}}",
		},
		{
			name: "InnerSpacesAllowed",
			text: "Hi {{ name }}",
			data: map[string]any{"first_name": "Sara"},
			want: "Hi Sara",
		},
		{
			name:     "MappingKeysWithBraces",
			text:     "Hi {{name}}",
			mappings: map[string]string{"{{name}}": "first_name"},
			data:     map[string]any{"first_name": "Sara"},
			want:     "Hi Sara",
		},
		{
			name: "AdjacentTokens",
			text: "{{name}}{{city}}",
			data: map[string]any{"first_name": "a", "city": "b"},
			want: "ab",
		},
		{
			name: "TripleBracesKeepOuterBraces",
			text: "{{{name}}}",
			data: map[string]any{"first_name": "Sara"},
			want: "{Sara}",
		},
		{
			name: "RepeatedToken",
			text: "{{name}} {{name}}",
			data: map[string]any{"first_name": "Sara"},
			want: "Sara Sara",
		},
		{
			name: "NoPlaceholders",
			text: "plain text",
			data: map[string]any{"first_name": "Sara"},
			want: "plain text",
		},
		{
			name: "EmptyTemplate",
			text: "",
			data: map[string]any{"first_name": "Sara"},
			want: "",
		},
		{
			name: "NumbersAndBooleans",
			text: "{{name}} {{city}}",
			data: map[string]any{"first_name": float64(42), "city": true},
			want: "42 true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.mappings
			if m == nil {
				m = mappings
			}
			assert.Equal(t, tt.want, RenderTemplate(tt.text, m, tt.data))
		})
	}
}

func TestRenderTemplateDoesNotRescanValues(t *testing.T) {
	mappings := map[string]string{"a": "field_a", "b": "field_b"}

	t.Run("ValueContainingPlaceholder", func(t *testing.T) {
		data := map[string]any{"field_a": "{{b}}", "field_b": "secret"}
		assert.Equal(t, "{{b}} secret", RenderTemplate("{{a}} {{b}}", mappings, data))
	})

	t.Run("TokenPrefixOfAnother", func(t *testing.T) {
		m := map[string]string{"name": "n", "name_full": "nf"}
		data := map[string]any{"n": "Ali", "nf": "Ali Rezaei"}
		assert.Equal(t, "Ali / Ali Rezaei", RenderTemplate("{{name}} / {{name_full}}", m, data))
	})
}

func TestRenderTemplateFullyDeclaredLeavesNoPlaceholder(t *testing.T) {
	mappings := map[string]string{"x": "fx", "y": "fy", "z": "fz"}
	templates := []string{
		"{{x}}",
		"{{x}} and {{y}} then {{z}}",
		"{{ x }}{{y}}{{ z}}",
		"prefix {{x}} suffix",
	}
	datasets := []map[string]any{
		{},
		{"fx": "1"},
		{"fx": "1", "fy": 2.5, "fz": false},
	}

	for _, tpl := range templates {
		for _, data := range datasets {
			out := RenderTemplate(tpl, mappings, data)
			assert.NotContains(t, out, "{{", "template %q data %v", tpl, data)
			assert.NotContains(t, out, "}}", "template %q data %v", tpl, data)
		}
	}
}

func TestStringify(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "abc", Stringify("abc"))
	assert.Equal(t, "12.5", Stringify(12.5))
	assert.Equal(t, "12", Stringify(float64(12)))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "false", Stringify(false))
	assert.Equal(t, "99", Stringify(json.Number("99")))
	assert.Equal(t, "2024-03-01T10:30:00Z", Stringify(ts))
	assert.Equal(t, "a, 1", Stringify([]any{"a", float64(1)}))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]any{"k": "v"}))
}
