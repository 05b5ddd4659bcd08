package wizard

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// StepRecord holds the field values of one step. Values are string,
// float64, bool, nil, or []any and map[string]any of those.
type StepRecord map[string]any

func (r StepRecord) clone() StepRecord {
	out := make(StepRecord, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	}
	return v
}

// PhotoCollection maps an upload category to its ordered file URLs.
type PhotoCollection map[string][]string

func (p PhotoCollection) clone() PhotoCollection {
	if p == nil {
		return nil
	}
	out := make(PhotoCollection, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Meta is everything that lives outside a step record.
type Meta struct {
	VehicleType VehicleType     `json:"vehicle_type"`
	City        string          `json:"city,omitempty"`
	SellerPrice string          `json:"seller_price,omitempty"`
	KeyFeatures []string        `json:"key_features,omitempty"`
	Photos      PhotoCollection `json:"photos,omitempty"`
	Location    *Location       `json:"location,omitempty"`
}

func (m Meta) clone() Meta {
	out := m
	out.KeyFeatures = slices.Clone(m.KeyFeatures)
	out.Photos = m.Photos.clone()
	if m.Location != nil {
		loc := *m.Location
		out.Location = &loc
	}
	return out
}

type State struct {
	Meta
	Steps map[Step]StepRecord `json:"steps"`
}

func NewState(vehicle VehicleType) State {
	return State{
		Meta:  Meta{VehicleType: vehicle},
		Steps: make(map[Step]StepRecord),
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Meta:  s.Meta.clone(),
		Steps: make(map[Step]StepRecord, len(s.Steps)),
	}
	for k, v := range s.Steps {
		out.Steps[k] = v.clone()
	}
	return out
}

// Step returns the record for step, or an empty record.
func (s State) Step(step Step) StepRecord {
	if r, ok := s.Steps[step]; ok {
		return r
	}
	return StepRecord{}
}

// normalizeValue folds values into the JSON-stable set so that a record
// survives a snapshot round trip unchanged.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case json.Number:
		return normalizeNumber(t)
	case int:
		return normalizeInt(int64(t))
	case int32:
		return float64(t)
	case int64:
		return normalizeInt(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	default:
		return fmt.Sprint(t)
	}
}

// maxExactInt is the largest integer a float64 holds without rounding.
const maxExactInt = 1 << 53

// normalizeInt keeps integers outside the float64 exact range as their
// decimal text, so long identifiers are never rounded.
func normalizeInt(n int64) any {
	if n > maxExactInt || n < -maxExactInt {
		return strconv.FormatInt(n, 10)
	}
	return float64(n)
}

func normalizeNumber(n json.Number) any {
	lit := n.String()
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return normalizeInt(i)
	}
	if !strings.ContainsAny(lit, ".eE") {
		return lit
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return lit
}
