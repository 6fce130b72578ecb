package feature

import (
	"encoding/json"
	"strings"
)

// FieldType is the declared type of a property column.
type FieldType string

const (
	FieldInt   FieldType = "int"
	FieldFloat FieldType = "float"
	FieldStr   FieldType = "str"
	FieldBool  FieldType = "bool"
	FieldDate  FieldType = "date"
)

// Field is one column of a Schema.
type Field struct {
	Name string
	Type FieldType
}

// Schema is the ordered list of property columns.
type Schema []Field

// Type returns the declared type of name.
func (s Schema) Type(name string) (FieldType, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// InferSchema derives a schema from a sample property map. Nested values and
// nulls are treated as strings.
func InferSchema(p *Properties) Schema {
	if p == nil {
		return nil
	}
	s := make(Schema, 0, p.Len())
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		s = append(s, Field{Name: k, Type: typeOf(v)})
	}
	return s
}

func typeOf(v any) FieldType {
	switch t := v.(type) {
	case bool:
		return FieldBool
	case int, int32, int64:
		return FieldInt
	case float32, float64:
		return FieldFloat
	case json.Number:
		if strings.ContainsAny(t.String(), ".eE") {
			return FieldFloat
		}
		return FieldInt
	default:
		return FieldStr
	}
}
