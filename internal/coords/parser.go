// Package coords parses raw regulation coordinate strings and normalizes
// the direction of one-way vertex sequences.
package coords

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Vertex is a (longitude, latitude) pair.
type Vertex struct {
	Lon float64
	Lat float64
}

// Sequence is an ordered list of vertices. Order is significant for one-way lines.
type Sequence []Vertex

// Flat returns the sequence as flat XY coordinates for go-geom.
func (s Sequence) Flat() []float64 {
	flat := make([]float64, 0, len(s)*2)
	for _, v := range s {
		flat = append(flat, v.Lon, v.Lat)
	}
	return flat
}

// Closed reports whether the first and last vertices are identical.
func (s Sequence) Closed() bool {
	return len(s) > 0 && s[0] == s[len(s)-1]
}

// Reversed returns a reversed copy of the sequence.
func (s Sequence) Reversed() Sequence {
	out := make(Sequence, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

// pairSeparator separates vertex tokens inside a coordinate string.
const pairSeparator = ";"

var decimalPattern = regexp.MustCompile(`[-+]?\d+\.\d+`)

// Parser turns raw coordinate strings into vertex sequences. Tokens that
// cannot be read are dropped; parsing never fails.
type Parser struct {
	log *zap.Logger
}

// NewParser creates a Parser. A nil logger disables diagnostics.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log}
}

// Parse splits raw on ';' and reads one vertex per token. Consecutive
// identical vertices are collapsed unless keepDuplicates is set, which
// one-way data needs to keep its vertex count intact.
func (p *Parser) Parse(raw string, keepDuplicates bool) Sequence {
	if strings.TrimSpace(raw) == "" {
		return Sequence{}
	}

	var seq Sequence
	for _, token := range strings.Split(raw, pairSeparator) {
		if strings.TrimSpace(token) == "" {
			continue
		}
		v, ok := parsePair(token)
		if !ok {
			p.log.Debug("coords: dropping unreadable token", zap.String("token", token))
			continue
		}
		seq = append(seq, v)
	}

	if seq == nil {
		return Sequence{}
	}
	if keepDuplicates {
		return seq
	}

	deduped := collapseDuplicates(seq)
	if removed := len(seq) - len(deduped); removed > 0 {
		p.log.Debug("coords: collapsed consecutive duplicates",
			zap.Int("removed", removed),
			zap.Int("remaining", len(deduped)),
		)
	}
	return deduped
}

// parsePair tries the decimal pattern, then whitespace fields, then comma
// fields, taking the first strategy that yields at least two numbers.
func parsePair(token string) (Vertex, bool) {
	if matches := decimalPattern.FindAllString(token, 2); len(matches) == 2 {
		lon, errLon := strconv.ParseFloat(matches[0], 64)
		lat, errLat := strconv.ParseFloat(matches[1], 64)
		if errLon == nil && errLat == nil {
			return Vertex{Lon: lon, Lat: lat}, true
		}
	}

	if nums := numericFields(strings.Fields(token)); len(nums) >= 2 {
		return Vertex{Lon: nums[0], Lat: nums[1]}, true
	}

	if nums := numericFields(strings.Split(strings.TrimSpace(token), ",")); len(nums) >= 2 {
		return Vertex{Lon: nums[0], Lat: nums[1]}, true
	}

	return Vertex{}, false
}

func numericFields(parts []string) []float64 {
	var nums []float64
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			continue
		}
		nums = append(nums, f)
	}
	return nums
}

func collapseDuplicates(seq Sequence) Sequence {
	out := make(Sequence, 0, len(seq))
	for _, v := range seq {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
