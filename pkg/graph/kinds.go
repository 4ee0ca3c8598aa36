package graph

import (
	"strconv"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/units"
)

type resolver struct {
	// input infers the primary input when no entity is configured
	input   func(n *Node) types.Reading
	display func(n *Node) string
}

func resolverFor(kind types.NodeKind) resolver {
	switch kind {
	case types.NodeKindGrid:
		return resolver{display: pairDisplay(types.ChannelPrimaryInput, types.ChannelPrimaryOutput)}
	case types.NodeKindBattery:
		return resolver{display: pairDisplay(types.ChannelPrimaryOutput, types.ChannelPrimaryInput)}
	case types.NodeKindSolar:
		return resolver{display: totalDisplay(types.ChannelPrimaryOutput)}
	case types.NodeKindHome:
		return resolver{input: inferHomeInput, display: totalDisplay(types.ChannelPrimaryInput)}
	default:
		return resolver{input: inferSubHomeInput, display: totalDisplay(types.ChannelPrimaryInput)}
	}
}

// inferHomeInput balances the base system: everything imported, produced or
// discharged minus what went into the battery or back to the grid.
func inferHomeInput(n *Node) types.Reading {
	t := n.topo
	gridOut := t.Grid.Output()
	if !gridOut.Valid() {
		return types.Unavailable()
	}
	v := gridOut.Value
	for _, p := range []struct {
		r    types.Reading
		sign float64
	}{
		{t.Solar.Output(), 1},
		{t.Battery.Output(), 1},
		{t.Battery.Input(), -1},
		{t.Grid.Input(), -1},
	} {
		if !p.r.Valid() || !units.SameFamily(p.r.Unit, gridOut.Unit) {
			return types.Unavailable()
		}
		v += p.sign * p.r.Value
	}
	return types.NewReading(v, gridOut.Unit)
}

// inferSubHomeInput is the residual of the parent after all measured
// siblings.
func inferSubHomeInput(n *Node) types.Reading {
	parent := n.topo.Parent(n)
	if parent == nil {
		return types.Unavailable()
	}
	total := parent.Input()
	if !total.Valid() {
		return types.Unavailable()
	}
	v := total.Value
	for _, sib := range n.topo.Children(parent.id) {
		if sib == n {
			continue
		}
		m := sib.measured()
		if !m.Valid() || !units.SameFamily(m.Unit, total.Unit) {
			return types.Unavailable()
		}
		v -= m.Value
	}
	return types.NewReading(v, total.Unit)
}

func formatReading(r types.Reading) string {
	if !r.Valid() {
		return "-"
	}
	s := strconv.FormatFloat(r.Value, 'f', -1, 64)
	if r.Unit != "" {
		s += " " + string(r.Unit)
	}
	return s
}

func pairDisplay(left, right types.Channel) func(n *Node) string {
	return func(n *Node) string {
		return "← " + formatReading(n.Scaled(left)) + " / → " + formatReading(n.Scaled(right))
	}
}

func totalDisplay(ch types.Channel) func(n *Node) string {
	return func(n *Node) string {
		return formatReading(n.Scaled(ch))
	}
}
