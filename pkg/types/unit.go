package types

// Unit is an electricity unit as reported by Home Assistant or configured on a
// node. Power and energy units form two families that are never converted
// into each other.
type Unit string

const (
	UnitW  Unit = "W"
	UnitKW Unit = "kW"
	UnitMW Unit = "MW"
	UnitGW Unit = "GW"

	UnitWh  Unit = "Wh"
	UnitKWh Unit = "kWh"
	UnitMWh Unit = "MWh"
	UnitGWh Unit = "GWh"
)

// Thresholds decide when a value is displayed in the next larger unit. They
// are expressed in base units (W or Wh) and only affect display.
type Thresholds struct {
	Kilo float64 `json:"kilo"`
	Mega float64 `json:"mega"`
	Giga float64 `json:"giga"`
}

// DefaultThresholds switches units at every factor of a thousand.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Kilo: 1e3,
		Mega: 1e6,
		Giga: 1e9,
	}
}
