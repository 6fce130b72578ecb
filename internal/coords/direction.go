package coords

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Direction is the regulation direction code of a one-way segment.
type Direction int

const (
	// DirectionUnknown covers missing or unrecognised codes.
	DirectionUnknown Direction = iota
	// DirectionProhibited (code 1): vertices run from the entry-prohibited
	// point to the one-way start point.
	DirectionProhibited
	// DirectionDesignated (code 2): vertices run from the one-way start point
	// to the entry-prohibited point.
	DirectionDesignated
)

// String returns the lower-case name used in feature properties.
func (d Direction) String() string {
	switch d {
	case DirectionProhibited:
		return "prohibited"
	case DirectionDesignated:
		return "designated"
	default:
		return "unknown"
	}
}

// Code returns the canonical code value, or "" for unknown directions.
func (d Direction) Code() string {
	switch d {
	case DirectionProhibited:
		return "1"
	case DirectionDesignated:
		return "2"
	default:
		return ""
	}
}

// ParseDirection reads a direction code from a string or numeric field.
// "1", 1 and 1.0 are Prohibited; "2", 2 and 2.0 are Designated; anything
// else is Unknown.
func ParseDirection(v any) Direction {
	switch t := v.(type) {
	case nil:
		return DirectionUnknown
	case int:
		return directionFromFloat(float64(t))
	case int64:
		return directionFromFloat(float64(t))
	case float64:
		return directionFromFloat(t)
	case json.Number:
		return ParseDirection(t.String())
	case string:
		s := strings.TrimSpace(t)
		switch s {
		case "1", "1.0":
			return DirectionProhibited
		case "2", "2.0":
			return DirectionDesignated
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return DirectionUnknown
		}
		return directionFromFloat(f)
	default:
		return ParseDirection(fmt.Sprint(t))
	}
}

func directionFromFloat(f float64) Direction {
	switch f {
	case 1:
		return DirectionProhibited
	case 2:
		return DirectionDesignated
	default:
		return DirectionUnknown
	}
}

// Order describes what normalization did to a sequence.
type Order string

const (
	OrderOriginal Order = "original"
	OrderReversed Order = "reversed"
	OrderUnknown  Order = "unknown"
)

// Normalized is the result of direction normalization.
type Normalized struct {
	Coords Sequence
	Order  Order
	// Resolved is false when the direction code was not recognised; the
	// vertex order is then left as received.
	Resolved bool
	// Short is set when fewer than two vertices were supplied.
	Short bool
}

// Normalize brings a one-way sequence into the prohibited-direction
// convention (entry-prohibited point first). Designated sequences are
// reversed; everything else is returned unchanged.
func Normalize(seq Sequence, dir Direction, id string, log *zap.Logger) Normalized {
	if log == nil {
		log = zap.NewNop()
	}

	if len(seq) < 2 {
		log.Warn("coords: one-way sequence has fewer than 2 vertices",
			zap.String("id", id),
			zap.Int("vertices", len(seq)),
		)
		return Normalized{Coords: seq, Order: orderFor(dir), Resolved: dir != DirectionUnknown, Short: true}
	}

	switch dir {
	case DirectionProhibited:
		return Normalized{Coords: seq, Order: OrderOriginal, Resolved: true}
	case DirectionDesignated:
		log.Debug("coords: reversing designated one-way sequence", zap.String("id", id))
		return Normalized{Coords: seq.Reversed(), Order: OrderReversed, Resolved: true}
	default:
		log.Debug("coords: one-way direction unresolved", zap.String("id", id))
		return Normalized{Coords: seq, Order: OrderUnknown, Resolved: false}
	}
}

func orderFor(dir Direction) Order {
	switch dir {
	case DirectionProhibited:
		return OrderOriginal
	case DirectionDesignated:
		return OrderReversed
	default:
		return OrderUnknown
	}
}
