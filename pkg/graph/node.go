package graph

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/stats"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/units"
)

// StateLookup resolves the current state of an entity.
type StateLookup interface {
	State(entityID string) (types.State, bool)
}

// Registrar is the part of the statistics aggregator nodes register with.
type Registrar interface {
	Register(ids []string) *stats.Registration
	Unregister(reg *stats.Registration)
}

type channel struct {
	entityID string
	windowed bool
	reading  types.Reading
}

// Node is one position in the graph. Its electricity readings are kept in
// base units (W or Wh).
type Node struct {
	id       string
	kind     types.NodeKind
	parentID string
	cfg      types.NodeConfig
	topo     *Topology
	res      resolver

	channels [3]channel
	reg      *stats.Registration
	window   stats.Result

	notifier
}

func newNode(t *Topology, id string, kind types.NodeKind, parentID string, cfg types.NodeConfig) *Node {
	n := &Node{
		id:       id,
		kind:     kind,
		parentID: parentID,
		cfg:      cfg,
		topo:     t,
		res:      resolverFor(kind),
	}
	n.channels[types.ChannelPrimaryInput] = channel{entityID: cfg.PrimaryInputEntity, windowed: cfg.UsesDatePicker}
	n.channels[types.ChannelPrimaryOutput] = channel{entityID: cfg.PrimaryOutputEntity, windowed: cfg.UsesDatePicker}
	n.channels[types.ChannelSecondary] = channel{entityID: cfg.SecondaryEntity, windowed: cfg.SecondaryUsesDatePicker}
	for i := range n.channels {
		n.channels[i].reading = types.Unavailable()
	}
	return n
}

// ID returns the node id. Base nodes use their kind name.
func (n *Node) ID() string { return n.id }

func (n *Node) Kind() types.NodeKind { return n.kind }

// ParentID is empty for base nodes.
func (n *Node) ParentID() string { return n.parentID }

func (n *Node) Config() types.NodeConfig { return n.cfg }

// EntityID returns the entity configured for ch.
func (n *Node) EntityID(ch types.Channel) string { return n.channels[ch].entityID }

// Name returns the configured name, falling back to the id.
func (n *Node) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return n.id
}

// Inferred returns true if the primary input is derived from other nodes
// instead of measured.
func (n *Node) Inferred() bool {
	return n.channels[types.ChannelPrimaryInput].entityID == "" && n.res.input != nil
}

// Input returns the primary input. Home and SubHome infer it when no entity
// is configured.
func (n *Node) Input() types.Reading {
	if n.Inferred() {
		return n.res.input(n)
	}
	return n.channels[types.ChannelPrimaryInput].reading
}

// Output returns the primary output.
func (n *Node) Output() types.Reading {
	return n.channels[types.ChannelPrimaryOutput].reading
}

// Secondary returns the secondary reading. It may carry a non-electricity
// unit such as a battery state of charge in %.
func (n *Node) Secondary() types.Reading {
	return n.channels[types.ChannelSecondary].reading
}

// Reading returns the reading of ch.
func (n *Node) Reading(ch types.Channel) types.Reading {
	switch ch {
	case types.ChannelPrimaryInput:
		return n.Input()
	case types.ChannelPrimaryOutput:
		return n.Output()
	default:
		return n.Secondary()
	}
}

// Scaled returns the reading of ch auto-scaled for display.
func (n *Node) Scaled(ch types.Channel) types.Reading {
	r := n.Reading(ch)
	if !r.Valid() {
		return r
	}
	isPower, err := units.IsPower(r.Unit)
	if err != nil {
		return r
	}
	v, u := units.AutoScale(r.Value, n.topo.thresholds, isPower)
	return types.NewReading(v, u)
}

// Display returns the text shown inside the node.
func (n *Node) Display() string {
	return n.res.display(n)
}

// Subscribe registers l to be called after every update of the node. The
// returned func removes the listener.
func (n *Node) Subscribe(l Listener) func() {
	return n.subscribe(l)
}

// Update recomputes every channel from lookup and the last windowed result,
// then notifies subscribers.
func (n *Node) Update(lookup StateLookup) {
	for i := range n.channels {
		n.channels[i].reading = n.resolve(types.Channel(i), lookup)
	}
	n.notify(n)
}

func (n *Node) resolve(ch types.Channel, lookup StateLookup) types.Reading {
	c := n.channels[ch]
	if c.entityID == "" {
		return types.Unavailable()
	}

	var st types.State
	var found bool
	if lookup != nil {
		st, found = lookup.State(c.entityID)
	}

	var raw float64
	if c.windowed {
		v := n.window.Get(c.entityID)
		if !v.Available {
			return types.Unavailable()
		}
		raw = v.Delta
	} else {
		if !found {
			return types.Unavailable()
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(st.Value), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return types.Unavailable()
		}
		raw = f
	}

	var configured string
	if ch != types.ChannelSecondary {
		configured = n.cfg.Unit
	}
	unit, err := units.Resolve(configured, st.Unit)
	if err != nil {
		if ch == types.ChannelSecondary {
			return types.NewReading(raw, types.Unit(st.Unit))
		}
		return types.Unavailable()
	}
	base, _ := units.ToBaseUnit(raw, unit)
	isPower, _ := units.IsPower(unit)
	return types.NewReading(base, units.BaseUnit(isPower))
}

// windowedIDs returns the distinct entities read through the aggregator.
func (n *Node) windowedIDs() []string {
	var ids []string
	for _, c := range n.channels {
		if c.windowed && c.entityID != "" && !slices.Contains(ids, c.entityID) {
			ids = append(ids, c.entityID)
		}
	}
	return ids
}

func (n *Node) attach(r Registrar) {
	n.detach(r)
	if ids := n.windowedIDs(); len(ids) > 0 {
		n.reg = r.Register(ids)
	}
}

func (n *Node) detach(r Registrar) {
	if n.reg != nil {
		r.Unregister(n.reg)
		n.reg = nil
	}
	n.window = stats.Result{}
}

// poll takes a pending windowed result, if any.
func (n *Node) poll() bool {
	if n.reg == nil {
		return false
	}
	select {
	case res := <-n.reg.C():
		n.window = res
		return true
	default:
		return false
	}
}

// measured returns what a node accounts for without residual inference: its
// own primary input, or the sum of its children when it has none.
func (n *Node) measured() types.Reading {
	if in := n.channels[types.ChannelPrimaryInput]; in.entityID != "" {
		return in.reading
	}
	kids := n.topo.Children(n.id)
	if len(kids) == 0 {
		return types.Unavailable()
	}
	var sum float64
	var unit types.Unit
	for i, k := range kids {
		m := k.measured()
		if !m.Valid() {
			return types.Unavailable()
		}
		if i == 0 {
			unit = m.Unit
		} else if !units.SameFamily(unit, m.Unit) {
			return types.Unavailable()
		}
		sum += m.Value
	}
	return types.NewReading(sum, unit)
}
