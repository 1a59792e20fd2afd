package audit

import "sync/atomic"

// Counters are the live progress counters of a run.
//
// The worker is the only writer. Increments happen in the order
// NodesVisited, LeavesSeen, LeavesFixed for any given entity, so reading in
// the reverse order always observes LeavesFixed <= LeavesSeen <= NodesVisited.
type Counters struct {
	NodesVisited atomic.Int64
	LeavesSeen   atomic.Int64
	LeavesFixed  atomic.Int64
}

// Load returns the counters read in reverse increment order.
func (c *Counters) Load() (visited, seen, fixed int64) {
	fixed = c.LeavesFixed.Load()
	seen = c.LeavesSeen.Load()
	visited = c.NodesVisited.Load()
	return visited, seen, fixed
}

func (c *Counters) reset() {
	c.LeavesFixed.Store(0)
	c.LeavesSeen.Store(0)
	c.NodesVisited.Store(0)
}
