package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind tells which variant an Args value holds.
type Kind int

const (
	// Positional args are an ordered list of values.
	Positional Kind = iota
	// Named args are a mapping from name to value.
	Named
)

func (k Kind) String() string {
	if k == Named {
		return "named"
	}
	return "positional"
}

// Args is the argument set of a job: either an ordered list or a mapping.
//
// The zero value is an empty positional list, which is also what a job
// enqueued without arguments carries.
type Args struct {
	kind  Kind
	list  []any
	named map[string]any
}

// List returns positional args.
func List(values ...any) Args {
	list := make([]any, 0, len(values))
	for _, v := range values {
		list = append(list, normalize(v))
	}
	return Args{kind: Positional, list: list}
}

// Map returns named args.
func Map(values map[string]any) Args {
	named := make(map[string]any, len(values))
	for k, v := range values {
		named[k] = normalize(v)
	}
	return Args{kind: Named, named: named}
}

// FromValue builds Args from a decoded YAML or JSON value. A nil value is
// the empty list, a list is positional, a mapping is named and any scalar
// becomes a single positional value.
func FromValue(v any) Args {
	switch x := normalize(v).(type) {
	case nil:
		return Args{}
	case []any:
		return Args{kind: Positional, list: x}
	case map[string]any:
		return Args{kind: Named, named: x}
	default:
		return Args{kind: Positional, list: []any{x}}
	}
}

// Parse decodes JSON text into Args. Empty text is the empty list.
func Parse(raw string) (Args, error) {
	if strings.TrimSpace(raw) == "" {
		return Args{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Args{}, fmt.Errorf("parse args: %w", err)
	}
	if dec.More() {
		return Args{}, fmt.Errorf("parse args: trailing data")
	}
	return FromValue(v), nil
}

// Kind returns the variant.
func (a Args) Kind() Kind { return a.kind }

// Len returns the number of positional values or named keys.
func (a Args) Len() int {
	if a.kind == Named {
		return len(a.named)
	}
	return len(a.list)
}

// IsEmpty reports whether no argument is set.
func (a Args) IsEmpty() bool { return a.Len() == 0 }

// Positional returns a copy of the positional values, nil for named args.
func (a Args) Positional() []any {
	if a.kind != Positional {
		return nil
	}
	return append([]any(nil), a.list...)
}

// Named returns a copy of the named values, nil for positional args.
func (a Args) Named() map[string]any {
	if a.kind != Named {
		return nil
	}
	out := make(map[string]any, len(a.named))
	for k, v := range a.named {
		out[k] = v
	}
	return out
}

// Keys returns the named keys in sorted order.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a.named))
	for k := range a.named {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the args as a plain []any or map[string]any.
func (a Args) Value() any {
	if a.kind == Named {
		return a.Named()
	}
	if a.list == nil {
		return []any{}
	}
	return a.Positional()
}

// Merge overlays values onto the args by key. Named args are merged key by
// key. Positional args keep their values and get the overlay as a trailing
// mapping; when the last positional value already is a mapping it is merged
// into instead.
func (a Args) Merge(values map[string]any) Args {
	if len(values) == 0 {
		return a
	}
	if a.kind == Named {
		out := a.Named()
		for k, v := range values {
			out[k] = normalize(v)
		}
		return Args{kind: Named, named: out}
	}

	list := a.Positional()
	slot := map[string]any{}
	if n := len(list); n > 0 {
		if last, ok := list[n-1].(map[string]any); ok {
			for k, v := range last {
				slot[k] = v
			}
			list = list[:n-1]
		}
	}
	for k, v := range values {
		slot[k] = normalize(v)
	}
	return Args{kind: Positional, list: append(list, slot)}
}

// Encode returns the canonical serialization: JSON with mapping keys in
// sorted order and no HTML escaping.
func (a Args) Encode() string {
	b, err := marshal(a.Value())
	if err != nil {
		// normalize only leaves JSON-representable values behind.
		return "[]"
	}
	return string(b)
}

// String implements fmt.Stringer.
func (a Args) String() string { return a.Encode() }

// Equal compares the canonical serializations.
func (a Args) Equal(b Args) bool { return a.Encode() == b.Encode() }

// MarshalJSON implements json.Marshaler.
func (a Args) MarshalJSON() ([]byte, error) {
	return marshal(a.Value())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Args) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// normalize turns decoder output into plain JSON-representable values:
// mappings with non-string keys get string keys and json.Number becomes
// int64 or float64 so equal values serialize identically.
func normalize(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = normalize(val)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalize(x[i])
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// marshal is json.Marshal without HTML escaping and without the trailing
// newline the encoder writes.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
