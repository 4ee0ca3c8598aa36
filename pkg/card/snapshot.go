package card

import (
	"context"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/flow"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/graph"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// Snapshot returns every node and edge of the card as they are now.
func (c *Card) Snapshot(ctx context.Context) (types.Graph, error) {
	var g types.Graph
	err := c.call(ctx, func(context.Context) {
		g = c.snapshot()
	})
	return g, err
}

func (c *Card) snapshot() types.Graph {
	g := types.Graph{
		Timestamp: c.now().UTC(),
		Nodes:     []types.NodeView{},
		Edges:     []types.EdgeSpec{},
	}
	if !c.selection.IsZero() {
		sel := c.selection
		g.Selection = &sel
	}
	if c.topo == nil {
		return g
	}
	for _, n := range c.topo.Nodes() {
		g.Nodes = append(g.Nodes, c.view(n))
	}
	g.Edges = flow.DescribeAll(c.topo)
	return g
}

// view renders n with display-scaled readings.
func (c *Card) view(n *graph.Node) types.NodeView {
	cfg := n.Config()
	v := types.NodeView{
		ID:        n.ID(),
		Kind:      n.Kind(),
		Name:      n.Name(),
		ParentID:  n.ParentID(),
		Input:     n.Scaled(types.ChannelPrimaryInput),
		Output:    n.Scaled(types.ChannelPrimaryOutput),
		Secondary: n.Scaled(types.ChannelSecondary),
		Display:   n.Display(),
		Color:     flow.NodeColor(n, flow.ColorsFrom(c.topo.Config())),
		TextColor: cfg.TextColor,
		IconColor: cfg.IconColor,
		Icon:      cfg.Icon,
		X:         cfg.X,
	}
	if n.Kind() == types.NodeKindHome {
		if mix, ok := flow.SourceMix(c.topo); ok {
			v.SourceMix = &mix
		}
	}
	return v
}

// Node returns the view of a single node.
func (c *Card) Node(ctx context.Context, id string) (types.NodeView, bool, error) {
	var v types.NodeView
	var found bool
	err := c.call(ctx, func(context.Context) {
		if c.topo == nil {
			return
		}
		if n, ok := c.topo.Node(id); ok {
			v = c.view(n)
			found = true
		}
	})
	return v, found, err
}

// NodeIDs returns the ids of every node, base nodes first.
func (c *Card) NodeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.call(ctx, func(context.Context) {
		if c.topo == nil {
			return
		}
		for _, n := range c.topo.Nodes() {
			ids = append(ids, n.ID())
		}
	})
	return ids, err
}
