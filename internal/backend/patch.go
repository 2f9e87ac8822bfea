package backend

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Patch is a partial document update.
//
// Set assigns fields; dotted keys address nested maps ("settings.theme").
// A nil value in Set means "do not touch" and is stripped by Clean.
// Union and Remove treat the field as a set of strings. Append adds
// elements to a list, skipping elements whose "id" is already present.
type Patch struct {
	Set    map[string]any      `json:"set,omitempty"`
	Union  map[string][]string `json:"union,omitempty"`
	Remove map[string][]string `json:"remove,omitempty"`
	Append map[string][]any    `json:"append,omitempty"`
}

// SetFields builds a patch that assigns the given fields.
func SetFields(fields map[string]any) Patch {
	return Patch{Set: fields}
}

// AddToSet builds a patch adding values to a string-set field.
func AddToSet(field string, values ...string) Patch {
	return Patch{Union: map[string][]string{field: values}}
}

// RemoveFromSet builds a patch removing values from a string-set field.
func RemoveFromSet(field string, values ...string) Patch {
	return Patch{Remove: map[string][]string{field: values}}
}

// AppendTo builds a patch appending elements to a list field.
func AppendTo(field string, elems ...any) Patch {
	return Patch{Append: map[string][]any{field: elems}}
}

// Clean returns a copy of p without absent values.
func (p Patch) Clean() Patch {
	out := Patch{Union: p.Union, Remove: p.Remove, Append: p.Append}
	if len(p.Set) > 0 {
		out.Set = make(map[string]any, len(p.Set))
		for k, v := range p.Set {
			if isAbsent(v) {
				continue
			}
			out.Set[k] = v
		}
	}
	return out
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Union) == 0 && len(p.Remove) == 0 && len(p.Append) == 0
}

// Apply mutates doc, which must hold JSON-decoded values.
func (p Patch) Apply(doc map[string]any) error {
	p = p.Clean()
	for key, value := range p.Set {
		norm, err := normalize(value)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		setPath(doc, key, norm)
	}
	for field, values := range p.Union {
		current := stringsOf(doc[field])
		for _, v := range values {
			if !containsString(current, v) {
				current = append(current, v)
			}
		}
		doc[field] = anySlice(current)
	}
	for field, values := range p.Remove {
		current := stringsOf(doc[field])
		kept := current[:0]
		for _, v := range current {
			if !containsString(values, v) {
				kept = append(kept, v)
			}
		}
		doc[field] = anySlice(kept)
	}
	for field, elems := range p.Append {
		list, _ := doc[field].([]any)
		for _, e := range elems {
			norm, err := normalize(e)
			if err != nil {
				return fmt.Errorf("append %s: %w", field, err)
			}
			if id := elementID(norm); id != "" && hasElementID(list, id) {
				continue
			}
			list = append(list, norm)
		}
		doc[field] = list
	}
	return nil
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func setPath(doc map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func stringsOf(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && !containsString(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func elementID(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}

func hasElementID(list []any, id string) bool {
	for _, item := range list {
		if elementID(item) == id {
			return true
		}
	}
	return false
}
