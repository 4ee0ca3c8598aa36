// Package graph models the nodes of an electricity flow card: the base system
// of Grid, Solar, Battery and Home plus a tree of sub homes below Home.
package graph

import (
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// Ids of the base nodes.
const (
	IDGrid    = "grid"
	IDSolar   = "solar"
	IDBattery = "battery"
	IDHome    = "home"
)

// Topology holds every node of one card. Sub homes are stored in
// construction order, which guarantees parents precede their children.
type Topology struct {
	cfg        types.CardConfig
	thresholds types.Thresholds

	Grid    *Node
	Solar   *Node
	Battery *Node
	Home    *Node

	subHomes []*Node
	index    map[string]*Node
	children map[string][]*Node
	lookup   StateLookup
}

// New builds the topology for cfg. It fails with a *ConfigError if the sub
// home tree is invalid.
func New(cfg types.CardConfig) (*Topology, error) {
	t := &Topology{
		cfg:        cfg,
		thresholds: cfg.Thresholds(),
		index:      make(map[string]*Node),
		children:   make(map[string][]*Node),
	}

	t.Grid = t.add(newNode(t, IDGrid, types.NodeKindGrid, "", cfg.Grid))
	t.Solar = t.add(newNode(t, IDSolar, types.NodeKindSolar, "", cfg.Solar))
	t.Battery = t.add(newNode(t, IDBattery, types.NodeKindBattery, "", cfg.Battery))
	t.Home = t.add(newNode(t, IDHome, types.NodeKindHome, "", cfg.Home))

	for _, sh := range cfg.SubHomes {
		if sh.ID == "" {
			return nil, &ConfigError{Reason: "sub home without id"}
		}
		if sh.ID == sh.ParentID {
			return nil, &ConfigError{NodeID: sh.ID, Reason: "sub home cannot be its own parent"}
		}
		if _, ok := t.index[sh.ID]; ok {
			return nil, &ConfigError{NodeID: sh.ID, Reason: "duplicate node id"}
		}
		// only Home and sub homes defined earlier are known here, which
		// also rules out cycles
		parent, ok := t.index[sh.ParentID]
		if !ok || (parent.kind != types.NodeKindHome && parent.kind != types.NodeKindSubHome) {
			return nil, &ConfigError{NodeID: sh.ID, Reason: "no parent found"}
		}
		n := t.add(newNode(t, sh.ID, types.NodeKindSubHome, parent.id, sh.NodeConfig))
		t.subHomes = append(t.subHomes, n)
		t.children[parent.id] = append(t.children[parent.id], n)
	}
	return t, nil
}

func (t *Topology) add(n *Node) *Node {
	t.index[n.id] = n
	return n
}

// Config returns the config the topology was built from.
func (t *Topology) Config() types.CardConfig {
	return t.cfg
}

// Thresholds returns the display thresholds.
func (t *Topology) Thresholds() types.Thresholds {
	return t.thresholds
}

// Node returns the node with id.
func (t *Topology) Node(id string) (*Node, bool) {
	n, ok := t.index[id]
	return n, ok
}

// Nodes returns the base nodes followed by the sub homes.
func (t *Topology) Nodes() []*Node {
	out := []*Node{t.Grid, t.Solar, t.Battery, t.Home}
	return append(out, t.subHomes...)
}

// SubHomes returns the sub homes in construction order.
func (t *Topology) SubHomes() []*Node {
	return t.subHomes
}

// Children returns the sub homes directly below id.
func (t *Topology) Children(id string) []*Node {
	return t.children[id]
}

// Parent returns the parent of a sub home, or nil for base nodes.
func (t *Topology) Parent(n *Node) *Node {
	if n.parentID == "" {
		return nil
	}
	return t.index[n.parentID]
}

// Subscribe registers l on every node.
func (t *Topology) Subscribe(l Listener) func() {
	nodes := t.Nodes()
	cancels := make([]func(), 0, len(nodes))
	for _, n := range nodes {
		cancels = append(cancels, n.Subscribe(l))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Update recomputes every node from lookup and keeps lookup for later
// refreshes.
func (t *Topology) Update(lookup StateLookup) {
	t.lookup = lookup
	for _, n := range t.Nodes() {
		n.Update(lookup)
	}
}

// Refresh recomputes every node with the last lookup.
func (t *Topology) Refresh() {
	t.Update(t.lookup)
}

// Attach registers the windowed entities of every node with r.
func (t *Topology) Attach(r Registrar) {
	for _, n := range t.Nodes() {
		n.attach(r)
	}
}

// Detach removes every registration from r. It must be called before the
// topology is replaced.
func (t *Topology) Detach(r Registrar) {
	for _, n := range t.Nodes() {
		n.detach(r)
	}
}

// WindowedIDs returns every entity id read through the aggregator.
func (t *Topology) WindowedIDs() []string {
	var ids []string
	for _, n := range t.Nodes() {
		ids = append(ids, n.windowedIDs()...)
	}
	return ids
}

// PollStatistics takes pending windowed results and refreshes the graph if
// any arrived.
func (t *Topology) PollStatistics() bool {
	changed := false
	for _, n := range t.Nodes() {
		if n.poll() {
			changed = true
		}
	}
	if changed {
		t.Refresh()
	}
	return changed
}
