package flow

import (
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/graph"
)

// Handles are the connection points on the node outline.
const (
	HandleBottomLeft   = "IO_Bottom_Left"
	HandleBottomCenter = "IO_Bottom_Center"
	HandleBottomRight  = "IO_Bottom_Right"
	HandleTopLeft      = "IO_Top_Left"
	HandleTopCenter    = "IO_Top_Center"
	HandleTopRight     = "IO_Top_Right"
	HandleLeftTop      = "IO_Left_Top"
	HandleLeftCenter   = "IO_Left_Center"
	HandleLeftBottom   = "IO_Left_Bottom"
	HandleRightTop     = "IO_Right_Top"
	HandleRightCenter  = "IO_Right_Center"
	HandleRightBottom  = "IO_Right_Bottom"
)

type layoutEdge struct {
	from, to     string
	sourceHandle string
	targetHandle string
	begin        float64
}

// baseLayout places Solar on top, Grid left, Battery right and Home below.
var baseLayout = []layoutEdge{
	{graph.IDSolar, graph.IDGrid, HandleBottomLeft, HandleRightTop, 0},
	{graph.IDGrid, graph.IDBattery, HandleRightCenter, HandleLeftCenter, 0.5},
	{graph.IDSolar, graph.IDBattery, HandleBottomRight, HandleLeftTop, 1},
	{graph.IDSolar, graph.IDHome, HandleBottomCenter, HandleTopCenter, 1.5},
	{graph.IDGrid, graph.IDHome, HandleRightBottom, HandleTopLeft, 2},
	{graph.IDBattery, graph.IDHome, HandleLeftBottom, HandleTopRight, 2.5},
}

// Edges returns every edge drawn for the topology: the base system followed
// by one edge from each sub home's parent.
func Edges(t *graph.Topology) []graph.Edge {
	out := make([]graph.Edge, 0, len(baseLayout)+len(t.SubHomes()))
	for _, l := range baseLayout {
		from, _ := t.Node(l.from)
		to, _ := t.Node(l.to)
		out = append(out, graph.Edge{
			From:         from,
			To:           to,
			SourceHandle: l.sourceHandle,
			TargetHandle: l.targetHandle,
			BeginSeconds: l.begin,
		})
	}
	for _, sh := range t.SubHomes() {
		out = append(out, graph.Edge{
			From:         t.Parent(sh),
			To:           sh,
			SourceHandle: HandleBottomCenter,
			TargetHandle: HandleTopCenter,
		})
	}
	return out
}
