package feature

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
)

// MaxInt32 is the largest value a large-integer field may carry as a number.
const MaxInt32 = 2147483647

// DefaultLargeIntFields are the vehicle code columns that carry bit-packed
// codes wider than 32 bits.
var DefaultLargeIntFields = []string{"除外車両コード", "対象車両コード"}

// LargeInts converts oversized integers in allow-listed fields to strings.
// A field matches when its name contains any allow-listed name.
type LargeInts struct {
	fields []string
}

// NewLargeInts creates a coercer for the given allow-list.
func NewLargeInts(fields []string) LargeInts {
	return LargeInts{fields: fields}
}

// Matches reports whether name is an allow-listed field.
func (l LargeInts) Matches(name string) bool {
	for _, f := range l.fields {
		if f != "" && strings.Contains(name, f) {
			return true
		}
	}
	return false
}

// Coerce rewrites every allow-listed numeric value above MaxInt32 as its
// decimal string. It returns the number of values rewritten.
func (l LargeInts) Coerce(p *Properties) int {
	if p == nil {
		return 0
	}
	n := 0
	for _, k := range p.Keys() {
		if !l.Matches(k) {
			continue
		}
		v, _ := p.Get(k)
		if s, ok := oversized(v); ok {
			p.Set(k, s)
			n++
		}
	}
	return n
}

// AdjustSchema returns a copy of s with allow-listed int fields retyped to str.
func (l LargeInts) AdjustSchema(s Schema) Schema {
	out := make(Schema, len(s))
	copy(out, s)
	for i, f := range out {
		if f.Type == FieldInt && l.Matches(f.Name) {
			out[i].Type = FieldStr
		}
	}
	return out
}

// oversized returns the decimal text of v when v is a number above MaxInt32.
func oversized(v any) (string, bool) {
	switch t := v.(type) {
	case int:
		if t > MaxInt32 {
			return strconv.Itoa(t), true
		}
	case int64:
		if t > MaxInt32 {
			return strconv.FormatInt(t, 10), true
		}
	case uint64:
		if t > MaxInt32 {
			return strconv.FormatUint(t, 10), true
		}
	case float64:
		if t > MaxInt32 {
			return strconv.FormatFloat(t, 'f', -1, 64), true
		}
	case json.Number:
		f, ok := new(big.Float).SetString(t.String())
		if ok && f.Cmp(big.NewFloat(MaxInt32)) > 0 {
			return t.String(), true
		}
	}
	return "", false
}
