package feature

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Properties is an insertion-ordered name to value map. The zero value is
// ready to use. Numbers decoded from JSON are kept as json.Number so large
// integers keep their exact text.
type Properties struct {
	keys   []string
	values map[string]any
}

// NewProperties returns an empty map with room for n keys.
func NewProperties(n int) *Properties {
	return &Properties{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

// Set stores v under k. Existing keys keep their position.
func (p *Properties) Set(k string, v any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[k]; !ok {
		p.keys = append(p.keys, k)
	}
	p.values[k] = v
}

// Get returns the value for k.
func (p *Properties) Get(k string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// MarshalJSON writes the map as a JSON object in insertion order.
func (p *Properties) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSON(&buf, p.values[k]); err != nil {
			return nil, eris.Wrapf(err, "feature: marshal property %q", k)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order. null leaves the map
// empty.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "feature: read properties")
	}
	if tok == nil {
		*p = Properties{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return eris.Errorf("feature: properties must be an object, got %v", tok)
	}

	*p = Properties{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "feature: read property name")
		}
		key, ok := keyTok.(string)
		if !ok {
			return eris.Errorf("feature: unexpected property name %v", keyTok)
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			return eris.Wrapf(err, "feature: decode property %q", key)
		}
		p.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "feature: read end of properties")
	}
	return nil
}

// writeJSON encodes v without HTML escaping so property text round-trips
// byte for byte.
func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
