package flow

import (
	"math"
	"strconv"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/graph"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

const (
	// NoAnimation is the duration of edges without flow.
	NoAnimation = "0s"
	// EdgeType is the renderer component used for flow edges.
	EdgeType = "flowEdge"

	// minDuration keeps very large rates from rounding to NoAnimation.
	minDuration = 0.1
)

// Colors are the role colors of the base nodes.
type Colors struct {
	Solar   string
	Grid    string
	Battery string
}

// ColorsFrom returns the role colors configured on the card.
func ColorsFrom(cfg types.CardConfig) Colors {
	return Colors{
		Solar:   cfg.SolarColor,
		Grid:    cfg.GridColor,
		Battery: cfg.BatteryColor,
	}
}

// NodeColor returns the color of n: its role color for Grid, Solar and
// Battery, else its override, else DefaultNodeColor.
func NodeColor(n *graph.Node, c Colors) string {
	var role string
	switch n.Kind() {
	case types.NodeKindGrid:
		role = c.Grid
	case types.NodeKindSolar:
		role = c.Solar
	case types.NodeKindBattery:
		role = c.Battery
	}
	if role != "" {
		return role
	}
	if o := n.Config().ColorOverride; o != "" {
		return o
	}
	return types.DefaultNodeColor
}

// AnimationDuration turns a rate into the time a dot needs to travel the
// edge. Bigger rates are faster.
func AnimationDuration(rate float64) string {
	r := math.Abs(rate)
	if r == 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return NoAnimation
	}
	d := math.Round(10/r) / 10
	if math.IsInf(d, 0) {
		return NoAnimation
	}
	d = max(d, minDuration)
	return seconds(d)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "s"
}

// Describe returns the renderable description of e.
func Describe(e graph.Edge, rate float64, c Colors) types.EdgeSpec {
	// edges into a sub home take the sub home color so branches are
	// distinguishable
	color := NodeColor(e.From, c)
	if e.To.Kind() == types.NodeKindSubHome {
		color = NodeColor(e.To, c)
	}
	return types.EdgeSpec{
		ID:           e.From.ID() + "-" + e.To.ID(),
		Source:       e.From.ID(),
		Target:       e.To.ID(),
		SourceHandle: e.SourceHandle,
		TargetHandle: e.TargetHandle,
		Type:         EdgeType,
		Animated:     true,
		Rate:         finite(rate),
		Data: types.EdgeData{
			AnimationDuration: AnimationDuration(rate),
			DotColor:          color,
			LineColor:         color,
			Begin:             seconds(e.BeginSeconds),
		},
	}
}

// DescribeAll describes every edge of the topology.
func DescribeAll(t *graph.Topology) []types.EdgeSpec {
	c := ColorsFrom(t.Config())
	edges := Edges(t)
	out := make([]types.EdgeSpec, 0, len(edges))
	for _, e := range edges {
		out = append(out, Describe(e, Rate(t, e.From, e.To), c))
	}
	return out
}
