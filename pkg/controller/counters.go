package controller

import (
	"sync"

	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/session"
	"github.com/flowctl/core/pkg/status"
)

// counterTracker is the controller's status.CountersSource: an
// in-memory, monotonically-growing accumulator of per-component
// EventCounters (§4.5). It never resets — a caller wanting a windowed
// rate ("last 5 minutes") diffs two successive ProcessGroupStatus
// snapshots itself, the same way the component status repository's
// history reservoir is consumed externally.
type counterTracker struct {
	g *graph.Graph

	mu       sync.Mutex
	counters map[string]status.EventCounters
}

func newCounterTracker(g *graph.Graph) *counterTracker {
	return &counterTracker{g: g, counters: make(map[string]status.EventCounters)}
}

func (t *counterTracker) add(componentID string, stats session.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counters[componentID]
	c.InputCount += stats.InputCount
	c.InputBytes += stats.InputBytes
	c.OutputCount += stats.OutputCount
	c.OutputBytes += stats.OutputBytes
	c.BytesRead += stats.InputBytes
	c.BytesWritten += stats.OutputBytes
	t.counters[componentID] = c
}

// CountersFor implements status.CountersSource. ActiveThreadCount is
// read live from the graph rather than tracked here, since
// Connectable.ActiveTriggers is already the authoritative source (§5).
func (t *counterTracker) CountersFor(componentID string) status.EventCounters {
	t.mu.Lock()
	c := t.counters[componentID]
	t.mu.Unlock()
	if conn, err := t.g.Connectable(componentID); err == nil {
		c.ActiveThreadCount = conn.ActiveTriggers()
	}
	return c
}
