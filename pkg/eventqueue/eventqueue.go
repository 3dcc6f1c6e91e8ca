// Package eventqueue implements the event-driven work queue of §4.4: a
// bounded, idempotent, approximately-FIFO set of components currently
// ready to run, consulted by the event pool's workers instead of a timer.
package eventqueue

import (
	"context"
	"sync"

	"github.com/flowctl/core/pkg/graph"
)

// Queue is the fair set of ready event-driven components.
type Queue struct {
	mu      sync.Mutex
	ready   chan string      // signals availability without carrying payload
	pending map[string]struct{}
	order   []string

	primary   bool
	clustered bool
	primaryOnly map[string]struct{} // ids of components whose strategy is primary-node-only
}

// New constructs an empty event queue with the given channel capacity; the
// capacity only bounds how many wakeups can be pending at once, not the
// number of distinct ready components (that is unbounded, held in the map).
func New(capacity int) *Queue {
	return &Queue{
		ready:       make(chan string, capacity),
		pending:     make(map[string]struct{}),
		primaryOnly: make(map[string]struct{}),
	}
}

// MarkPrimaryOnly records that component id must be dropped from offer
// while the node is not primary, per §4.4's clustered sensitivity.
func (q *Queue) MarkPrimaryOnly(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.primaryOnly[id] = struct{}{}
}

// SetPrimary updates the node's primary flag.
func (q *Queue) SetPrimary(primary bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.primary = primary
}

// SetClustered updates whether the queue should honor primary-only
// filtering at all; a non-clustered (standalone) controller runs every
// component regardless of the primary flag.
func (q *Queue) SetClustered(clustered bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clustered = clustered
}

// Offer marks id ready, idempotently: offering an already-pending id is a
// no-op. A primary-only component is silently dropped on a non-primary
// clustered node.
func (q *Queue) Offer(id string) {
	q.mu.Lock()
	if q.clustered && !q.primary {
		if _, primaryOnly := q.primaryOnly[id]; primaryOnly {
			q.mu.Unlock()
			return
		}
	}
	if _, already := q.pending[id]; already {
		q.mu.Unlock()
		return
	}
	q.pending[id] = struct{}{}
	q.order = append(q.order, id)
	q.mu.Unlock()

	select {
	case q.ready <- id:
	default:
		// ready channel is full; the id stays recorded in pending/order and
		// each Poll re-signals the oldest pending id, so it is still reached.
	}
}

// Remove drops id from the ready set, used when a component is stopped
// while still marked ready.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) {
	if _, ok := q.pending[id]; !ok {
		return
	}
	delete(q.pending, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Poll blocks until a component is ready or ctx is done, and returns its
// id. It removes the id from the ready set; callers that want it
// reconsidered (its inbound queue is still non-empty after the trigger)
// must call Offer again themselves, per §4.4's "re-enqueue only if still
// non-empty" fairness rule.
func (q *Queue) Poll(ctx context.Context) (string, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case id := <-q.ready:
			q.mu.Lock()
			_, stillPending := q.pending[id]
			if stillPending {
				q.removeLocked(id)
			}
			// re-signal the oldest remaining entry so an id whose Offer found
			// the ready channel full is still reached by a later Poll.
			if len(q.order) > 0 {
				select {
				case q.ready <- q.order[0]:
				default:
				}
			}
			q.mu.Unlock()
			if stillPending {
				return id, true
			}
			// was Remove()'d between Offer and Poll; try again.
		}
	}
}

// ReconsiderAfterTrigger re-offers c if any inbound connection still has
// flow-files, matching §4.4: "a component just triggered is re-enqueued
// only if its inbound queues remain non-empty".
func (q *Queue) ReconsiderAfterTrigger(g *graph.Graph, c *graph.Connectable) {
	if g.AnyInboundNonEmpty(c) {
		q.Offer(c.ID)
	}
}

// Len reports how many components are currently marked ready.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
