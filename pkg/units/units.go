// Package units converts electricity readings between units and picks the
// unit a value is displayed in.
package units

import (
	"errors"
	"fmt"
	"math"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// ErrUnitMismatch is returned for units outside the power and energy families
// and for conversions across families.
var ErrUnitMismatch = errors.New("unit mismatch")

type unitInfo struct {
	factor float64
	power  bool
}

var known = map[types.Unit]unitInfo{
	types.UnitW:   {1, true},
	types.UnitKW:  {1e3, true},
	types.UnitMW:  {1e6, true},
	types.UnitGW:  {1e9, true},
	types.UnitWh:  {1, false},
	types.UnitKWh: {1e3, false},
	types.UnitMWh: {1e6, false},
	types.UnitGWh: {1e9, false},
}

// scaled lists the units per family in ascending order: base, kilo, mega, giga.
var scaled = map[bool][4]types.Unit{
	true:  {types.UnitW, types.UnitKW, types.UnitMW, types.UnitGW},
	false: {types.UnitWh, types.UnitKWh, types.UnitMWh, types.UnitGWh},
}

func lookup(unit types.Unit) (unitInfo, error) {
	info, ok := known[unit]
	if !ok {
		return unitInfo{}, fmt.Errorf("%w: %q is not an electricity unit", ErrUnitMismatch, string(unit))
	}
	return info, nil
}

// IsElectricity returns true if the unit belongs to either family.
func IsElectricity(unit types.Unit) bool {
	_, ok := known[unit]
	return ok
}

// ToBaseUnit converts value from unit into W or Wh.
func ToBaseUnit(value float64, unit types.Unit) (float64, error) {
	info, err := lookup(unit)
	if err != nil {
		return 0, err
	}
	return value * info.factor, nil
}

// IsPower returns true for power units and false for energy units.
func IsPower(unit types.Unit) (bool, error) {
	info, err := lookup(unit)
	if err != nil {
		return false, err
	}
	return info.power, nil
}

// BaseUnit returns W for power and Wh for energy.
func BaseUnit(isPower bool) types.Unit {
	return scaled[isPower][0]
}

// SameFamily returns true if both units are power units or both are energy
// units. Unknown units are never in the same family.
func SameFamily(a, b types.Unit) bool {
	ia, errA := lookup(a)
	ib, errB := lookup(b)
	if errA != nil || errB != nil {
		return false
	}
	return ia.power == ib.power
}

// Convert converts value between two units of the same family.
func Convert(value float64, from, to types.Unit) (float64, error) {
	fi, err := lookup(from)
	if err != nil {
		return 0, err
	}
	ti, err := lookup(to)
	if err != nil {
		return 0, err
	}
	if fi.power != ti.power {
		return 0, fmt.Errorf("%w: cannot convert %s to %s", ErrUnitMismatch, from, to)
	}
	return value * fi.factor / ti.factor, nil
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// AutoScale picks the largest unit whose threshold the magnitude of baseValue
// exceeds and returns the value in that unit rounded to one decimal. Values at
// or below the kilo threshold stay in the base unit.
func AutoScale(baseValue float64, t types.Thresholds, isPower bool) (float64, types.Unit) {
	family := scaled[isPower]
	mag := math.Abs(baseValue)
	var idx int
	switch {
	case mag > t.Giga:
		idx = 3
	case mag > t.Mega:
		idx = 2
	case mag > t.Kilo:
		idx = 1
	}
	unit := family[idx]
	return Round1(baseValue / known[unit].factor), unit
}

// Scale converts value from unit into base units and auto-scales it within
// the same family.
func Scale(value float64, unit types.Unit, t types.Thresholds) (types.Reading, error) {
	info, err := lookup(unit)
	if err != nil {
		return types.Unavailable(), err
	}
	v, u := AutoScale(value*info.factor, t, info.power)
	return types.NewReading(v, u), nil
}

// Resolve returns the unit a reading should be interpreted in. A configured
// unit always wins over the one reported upstream.
func Resolve(configured, reported string) (types.Unit, error) {
	raw := reported
	if configured != "" {
		raw = configured
	}
	u := types.Unit(raw)
	if _, err := lookup(u); err != nil {
		return "", err
	}
	return u, nil
}
