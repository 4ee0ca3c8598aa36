package graph

// Edge is a directed connection between two nodes as drawn on the card.
type Edge struct {
	From         *Node
	To           *Node
	SourceHandle string
	TargetHandle string
	// BeginSeconds offsets the start of the animation so dots on different
	// edges do not move in lockstep.
	BeginSeconds float64
}
