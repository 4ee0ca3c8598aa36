package types

import "time"

// EdgeData carries the animation parameters of an edge.
type EdgeData struct {
	AnimationDuration string `json:"animationSpeed"`
	DotColor          string `json:"dotColor"`
	LineColor         string `json:"lineColor"`
	Begin             string `json:"begin"`
}

// EdgeSpec is the renderable description of a directed flow edge.
type EdgeSpec struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	SourceHandle string   `json:"sourceHandle"`
	TargetHandle string   `json:"targetHandle"`
	Type         string   `json:"type"`
	Animated     bool     `json:"animated"`
	Rate         float64  `json:"rate"`
	Data         EdgeData `json:"data"`
}

// Graph is a full snapshot of the card: every node and every edge.
type Graph struct {
	Timestamp time.Time  `json:"timestamp"`
	Selection *Selection `json:"selection,omitempty"`
	Nodes     []NodeView `json:"nodes"`
	Edges     []EdgeSpec `json:"edges"`
}
