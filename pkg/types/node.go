package types

import "fmt"

// NodeKind identifies the role of a node in the graph.
type NodeKind int

const (
	NodeKindGrid NodeKind = iota
	NodeKindSolar
	NodeKindBattery
	NodeKindHome
	NodeKindSubHome
)

var nodeKindNames = map[NodeKind]string{
	NodeKindGrid:    "grid",
	NodeKindSolar:   "solar",
	NodeKindBattery: "battery",
	NodeKindHome:    "home",
	NodeKindSubHome: "subHome",
}

func (k NodeKind) String() string {
	if s, ok := nodeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler
func (k NodeKind) MarshalText() ([]byte, error) {
	if _, ok := nodeKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown node kind: %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *NodeKind) UnmarshalText(b []byte) error {
	for kind, name := range nodeKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown node kind: %q", string(b))
}

// Channel identifies one of the three readings a node carries.
type Channel int

const (
	ChannelPrimaryInput Channel = iota
	ChannelPrimaryOutput
	ChannelSecondary
)

func (c Channel) String() string {
	switch c {
	case ChannelPrimaryInput:
		return "primaryInput"
	case ChannelPrimaryOutput:
		return "primaryOutput"
	case ChannelSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// SourceMix is where the electricity consumed by Home comes from, in base
// units. It drives the Home ring.
type SourceMix struct {
	FromGrid    float64 `json:"fromGrid"`
	FromSolar   float64 `json:"fromSolar"`
	FromBattery float64 `json:"fromBattery"`
}

// Total returns the sum of all sources.
func (m SourceMix) Total() float64 {
	return m.FromGrid + m.FromSolar + m.FromBattery
}

// NodeView is the renderable state of a single node.
type NodeView struct {
	ID        string     `json:"id"`
	Kind      NodeKind   `json:"kind"`
	Name      string     `json:"name,omitempty"`
	ParentID  string     `json:"parentId,omitempty"`
	Input     Reading    `json:"input"`
	Output    Reading    `json:"output"`
	Secondary Reading    `json:"secondary"`
	Display   string     `json:"display"`
	Color     string     `json:"color"`
	TextColor string     `json:"textColor,omitempty"`
	IconColor string     `json:"iconColor,omitempty"`
	Icon      string     `json:"icon,omitempty"`
	X         float64    `json:"x,omitempty"`
	SourceMix *SourceMix `json:"sourceMix,omitempty"`
}
