package businessflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// placeholderPattern matches {{token}} with optional inner spaces. Tokens cannot
// contain braces, so {{a}}{{b}} is two tokens and {{{a}}} leaves the outer braces alone.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// RenderTemplate substitutes every declared placeholder with the stringified value of
// data[mappings[placeholder]]. Missing values render as "". Undeclared tokens are kept
// verbatim. Substituted values are never scanned again.
func RenderTemplate(text string, mappings map[string]string, data map[string]any) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}

	declared := normalizeMappings(mappings)
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		fieldKey, ok := declared[sub[1]]
		if !ok {
			return match
		}
		value, ok := data[fieldKey]
		if !ok {
			return ""
		}
		return Stringify(value)
	})
}

// normalizeMappings accepts keys written either as "name" or "{{name}}"
func normalizeMappings(mappings map[string]string) map[string]string {
	out := make(map[string]string, len(mappings))
	for k, v := range mappings {
		key := strings.TrimSpace(k)
		key = strings.TrimPrefix(key, "{{")
		key = strings.TrimSuffix(key, "}}")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(v)
	}
	return out
}

// Stringify renders a record field value the way it is shown in messages
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, Stringify(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
