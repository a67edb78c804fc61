package pyrus

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Sentinel values returned when a field cannot be interpreted. Extraction
// never fails; malformed or missing data degrades to these.
const (
	UnknownTeacher = "Unknown Teacher"
	UnknownBranch  = "Unknown Branch"
)

// studyingTokens are the string spellings of a ticked checkbox accepted
// from the remote system.
var studyingTokens = map[string]struct{}{
	"да":      {},
	"yes":     {},
	"true":    {},
	"checked": {},
	"1":       {},
}

// FieldExtractor locates fields by identifier inside an arbitrarily nested
// task-field tree and interprets the raw payloads. It is stateless; the
// zero value is ready to use.
type FieldExtractor struct{}

// Resolve searches the field tree depth-first for the given identifier and
// returns its raw value. The search descends into value.fields,
// value.items[*].fields and field.fields. A direct identifier match wins
// immediately, even when its value is empty; nested matches are only
// accepted when non-null. The second return is false when the identifier
// does not occur anywhere in the tree.
func (FieldExtractor) Resolve(fields []Field, fieldID int) (json.RawMessage, bool) {
	for _, f := range fields {
		if f.ID == fieldID {
			return f.Value, true
		}

		if isObject(f.Value) {
			var nested nestedValue
			if err := json.Unmarshal(f.Value, &nested); err == nil {
				if raw, ok := resolveNonNull(nested.Fields, fieldID); ok {
					return raw, true
				}
				for _, item := range nested.Items {
					if raw, ok := resolveNonNull(item.Fields, fieldID); ok {
						return raw, true
					}
				}
			}
		}

		if raw, ok := resolveNonNull(f.Fields, fieldID); ok {
			return raw, true
		}
	}
	return nil, false
}

func resolveNonNull(fields []Field, fieldID int) (json.RawMessage, bool) {
	if len(fields) == 0 {
		return nil, false
	}
	raw, ok := (FieldExtractor{}).Resolve(fields, fieldID)
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

// TeacherName interprets the field as a person reference: a plain string,
// or an object with first_name/last_name, or one of the usual catalog
// scalar keys. Returns UnknownTeacher when nothing usable is found.
func (e FieldExtractor) TeacherName(fields []Field, fieldID int) string {
	v := e.resolveAny(fields, fieldID)
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return s
		}
	case map[string]any:
		first := strings.TrimSpace(stringKey(val, "first_name"))
		last := strings.TrimSpace(stringKey(val, "last_name"))
		if full := strings.TrimSpace(first + " " + last); full != "" {
			return full
		}
		for _, key := range []string{"text", "name", "value", "display_name", "full_name"} {
			if s := strings.TrimSpace(stringKey(val, key)); s != "" {
				return s
			}
		}
	}
	return UnknownTeacher
}

// BranchName interprets the field as a catalog reference: a plain string,
// the first element of a "values" array, the first cell of a "rows" table,
// or a fallback scalar key. The result is the raw branch label; alias
// collapsing and casing are applied by the classifier. Returns
// UnknownBranch when nothing usable is found.
func (e FieldExtractor) BranchName(fields []Field, fieldID int) string {
	v := e.resolveAny(fields, fieldID)
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return s
		}
	case map[string]any:
		if s := firstArrayString(val, "values"); s != "" {
			return s
		}
		if s := firstTableCell(val, "rows"); s != "" {
			return s
		}
		for _, key := range []string{"text", "name", "value", "display_name"} {
			if s := strings.TrimSpace(stringKey(val, key)); s != "" {
				return s
			}
		}
	}
	return UnknownBranch
}

// IsStudying interprets the field as a checkbox. Absence is false, never
// an error.
func (e FieldExtractor) IsStudying(fields []Field, fieldID int) bool {
	v := e.resolveAny(fields, fieldID)
	switch val := v.(type) {
	case bool:
		return val
	case string:
		_, ok := studyingTokens[strings.ToLower(strings.TrimSpace(val))]
		return ok
	case map[string]any:
		if stringKey(val, "checkmark") == "checked" {
			return true
		}
		if checked, ok := val["checked"].(bool); ok && checked {
			return true
		}
		if b, ok := val["value"].(bool); ok {
			return b
		}
	}
	return false
}

// StatusToken extracts the scalar status label from a choice field:
// choice_names[0], values[0], rows[0][0], or a fallback scalar key.
// The second return is false when no token is present.
func (e FieldExtractor) StatusToken(fields []Field, fieldID int) (string, bool) {
	v := e.resolveAny(fields, fieldID)
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return s, true
		}
	case map[string]any:
		if s := firstArrayString(val, "choice_names"); s != "" {
			return s, true
		}
		if s := firstArrayString(val, "values"); s != "" {
			return s, true
		}
		if s := firstTableCell(val, "rows"); s != "" {
			return s, true
		}
		for _, key := range []string{"text", "name", "value"} {
			if s := strings.TrimSpace(stringKey(val, key)); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// resolveAny resolves the field and decodes its raw value into a generic
// Go value. Returns nil when the field is absent or malformed.
func (e FieldExtractor) resolveAny(fields []Field, fieldID int) any {
	raw, ok := e.Resolve(fields, fieldID)
	if !ok || isNull(raw) {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '{'
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func stringKey(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func firstArrayString(obj map[string]any, key string) string {
	arr, ok := obj[key].([]any)
	if !ok || len(arr) == 0 {
		return ""
	}
	s, _ := arr[0].(string)
	return strings.TrimSpace(s)
}

func firstTableCell(obj map[string]any, key string) string {
	rows, ok := obj[key].([]any)
	if !ok || len(rows) == 0 {
		return ""
	}
	row, ok := rows[0].([]any)
	if !ok || len(row) == 0 {
		return ""
	}
	s, _ := row[0].(string)
	return strings.TrimSpace(s)
}
