package graph

import "sort"

// maxReplays bounds how often a dispatch is repeated when listeners keep
// mutating the node they are notified about.
const maxReplays = 8

// Listener is called after a node changed.
type Listener func(n *Node)

type notifier struct {
	listeners   map[int]Listener
	next        int
	dispatching bool
	dirty       bool
}

func (nt *notifier) subscribe(l Listener) func() {
	if nt.listeners == nil {
		nt.listeners = make(map[int]Listener)
	}
	id := nt.next
	nt.next++
	nt.listeners[id] = l
	return func() {
		delete(nt.listeners, id)
	}
}

// notify calls every listener once. A notify from inside a listener marks the
// dispatch dirty and the listeners are called again once the current round
// finished.
func (nt *notifier) notify(n *Node) {
	if nt.dispatching {
		nt.dirty = true
		return
	}
	nt.dispatching = true
	defer func() { nt.dispatching = false }()

	for round := 0; round < maxReplays; round++ {
		nt.dirty = false
		ids := make([]int, 0, len(nt.listeners))
		for id := range nt.listeners {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			// a listener may have cancelled another one
			if l, ok := nt.listeners[id]; ok {
				l(n)
			}
		}
		if !nt.dirty {
			return
		}
	}
}
