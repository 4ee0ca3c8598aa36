package types

import (
	"encoding/json"
	"math"
)

// Reading is a numeric value with its unit. Unavailable readings carry NaN
// and no unit.
type Reading struct {
	Value     float64
	Unit      Unit
	Available bool
}

// Unavailable returns the reading used whenever a value cannot be resolved.
func Unavailable() Reading {
	return Reading{Value: math.NaN()}
}

// NewReading returns an available reading.
func NewReading(value float64, unit Unit) Reading {
	return Reading{Value: value, Unit: unit, Available: true}
}

// Valid returns true if the reading is available and holds a finite number.
func (r Reading) Valid() bool {
	return r.Available && !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

type readingJSON struct {
	Value     *float64 `json:"value"`
	Unit      Unit     `json:"unit,omitempty"`
	Available bool     `json:"available"`
}

// MarshalJSON encodes unavailable or non-finite values as null since JSON has
// no NaN.
func (r Reading) MarshalJSON() ([]byte, error) {
	out := readingJSON{Unit: r.Unit, Available: r.Valid()}
	if r.Valid() {
		v := r.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Reading) UnmarshalJSON(b []byte) error {
	var in readingJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if !in.Available || in.Value == nil {
		*r = Unavailable()
		return nil
	}
	*r = NewReading(*in.Value, in.Unit)
	return nil
}

// State is the current state of an entity as seen by the upstream state
// source: the raw state string and its unit_of_measurement attribute.
type State struct {
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// States is a snapshot of entity states keyed by entity id.
type States map[string]State

// State returns the state of id.
func (s States) State(id string) (State, bool) {
	st, ok := s[id]
	return st, ok
}

// Clone returns a copy of the snapshot.
func (s States) Clone() States {
	out := make(States, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
