// Package flow derives the relative flow between nodes and describes the
// animated edges drawn for them.
package flow

import (
	"math"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/graph"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/units"
)

// Shares are the directed flows of the base system relative to everything
// that entered it (grid import plus solar production).
//
// Batteries are assumed to charge from solar only so GridToBattery is always
// zero.
type Shares struct {
	GridToHome     float64 `json:"gridToHome"`
	GridToBattery  float64 `json:"gridToBattery"`
	SolarToGrid    float64 `json:"solarToGrid"`
	SolarToBattery float64 `json:"solarToBattery"`
	SolarToHome    float64 `json:"solarToHome"`
	BatteryToHome  float64 `json:"batteryToHome"`
}

type baseReadings struct {
	gridIn, gridOut, solarOut, batteryIn, batteryOut float64
}

// readBase returns the five readings of the base system in base units. It
// returns false if any of them is unusable.
func readBase(t *graph.Topology) (baseReadings, bool) {
	rs := []types.Reading{
		t.Grid.Input(),
		t.Grid.Output(),
		t.Solar.Output(),
		t.Battery.Input(),
		t.Battery.Output(),
	}
	for _, r := range rs {
		if !r.Valid() || !units.SameFamily(r.Unit, rs[1].Unit) {
			return baseReadings{}, false
		}
	}
	return baseReadings{
		gridIn:     rs[0].Value,
		gridOut:    rs[1].Value,
		solarOut:   rs[2].Value,
		batteryIn:  rs[3].Value,
		batteryOut: rs[4].Value,
	}, true
}

// BaseShares computes the shares of the base system. All shares are zero if
// a reading is missing or nothing entered the system.
func BaseShares(t *graph.Topology) Shares {
	b, ok := readBase(t)
	if !ok {
		return Shares{}
	}
	total := b.gridOut + b.solarOut
	if total == 0 {
		return Shares{}
	}
	return Shares{
		GridToHome:     finite(b.gridOut / total),
		GridToBattery:  0,
		SolarToGrid:    finite(b.gridIn / total),
		SolarToBattery: finite(b.batteryIn / total),
		SolarToHome:    finite((b.solarOut - b.gridIn - b.batteryIn) / total),
		BatteryToHome:  finite(b.batteryOut / total),
	}
}

// SourceMix returns where the electricity used by Home came from, in base
// units. It returns false if the base system is incomplete.
func SourceMix(t *graph.Topology) (types.SourceMix, bool) {
	b, ok := readBase(t)
	if !ok {
		return types.SourceMix{}, false
	}
	return types.SourceMix{
		FromGrid:    b.gridOut,
		FromSolar:   b.solarOut - b.gridIn - b.batteryIn,
		FromBattery: b.batteryOut,
	}, true
}

type kindPair struct {
	from, to types.NodeKind
}

var baseShares = map[kindPair]func(Shares) float64{
	{types.NodeKindGrid, types.NodeKindHome}:     func(s Shares) float64 { return s.GridToHome },
	{types.NodeKindGrid, types.NodeKindBattery}:  func(s Shares) float64 { return s.GridToBattery },
	{types.NodeKindSolar, types.NodeKindGrid}:    func(s Shares) float64 { return s.SolarToGrid },
	{types.NodeKindSolar, types.NodeKindBattery}: func(s Shares) float64 { return s.SolarToBattery },
	{types.NodeKindSolar, types.NodeKindHome}:    func(s Shares) float64 { return s.SolarToHome },
	{types.NodeKindBattery, types.NodeKindHome}:  func(s Shares) float64 { return s.BatteryToHome },
}

// Rate returns the flow rate from one node to another. Base pairs use the
// system shares and are negated when reversed. Edges into a sub home are the
// ratio of the sub home's input to its source's input. Everything else is 0.
func Rate(t *graph.Topology, from, to *graph.Node) float64 {
	if to.Kind() == types.NodeKindSubHome {
		return ratio(to.Input(), from.Input())
	}
	if share, ok := baseShares[kindPair{from.Kind(), to.Kind()}]; ok {
		return finite(share(BaseShares(t)))
	}
	if share, ok := baseShares[kindPair{to.Kind(), from.Kind()}]; ok {
		return finite(-share(BaseShares(t)))
	}
	return 0
}

func ratio(num, den types.Reading) float64 {
	if !num.Valid() || !den.Valid() || den.Value == 0 || !units.SameFamily(num.Unit, den.Unit) {
		return 0
	}
	return finite(num.Value / den.Value)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	// avoid -0 in JSON output
	if v == 0 {
		return 0
	}
	return v
}
