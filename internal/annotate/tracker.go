package annotate

import "gonum.org/v1/gonum/spatial/r3"

// Tracker remembers the last observed position of each rigid-body id within
// one take.
type Tracker struct {
	past map[int32]r3.Vec
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{past: make(map[int32]r3.Vec)}
}

// Previous returns the position recorded for id by the most recent Observe.
func (t *Tracker) Previous(id int32) (r3.Vec, bool) {
	p, ok := t.past[id]
	return p, ok
}

// Observe records pos as the latest position for id.
func (t *Tracker) Observe(id int32, pos r3.Vec) {
	t.past[id] = pos
}

// Len returns the number of ids seen.
func (t *Tracker) Len() int {
	return len(t.past)
}
