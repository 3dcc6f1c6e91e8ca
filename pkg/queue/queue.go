// Package queue implements the per-connection ordered queue described in
// §3: back-pressure by object count and byte size thresholds, flow-file
// expiration, and a pluggable total order built from a chain of
// prioritiser plug-ins (ties broken by insertion order).
//
// The locking discipline follows the same lock-guarded-map shape as the
// teacher's scheduler working set: a single mutex around a small amount of
// bookkeeping, never held across a blocking call.
package queue

import (
	"sync"
	"time"

	"github.com/flowctl/core/pkg/flowfile"
)

// Prioritizer defines a total order between two flow-files. Less reports
// whether a sorts before b; queues chain multiple prioritisers and fall
// back to insertion order on a full tie, matching §3's Queue invariant.
type Prioritizer interface {
	Less(a, b *flowfile.Record) bool
}

// FIFOPrioritizer orders by entry timestamp, the queue's default.
type FIFOPrioritizer struct{}

func (FIFOPrioritizer) Less(a, b *flowfile.Record) bool {
	return a.EntryTimestamp.Before(b.EntryTimestamp)
}

// NewestFirstPrioritizer orders by entry timestamp descending.
type NewestFirstPrioritizer struct{}

func (NewestFirstPrioritizer) Less(a, b *flowfile.Record) bool {
	return a.EntryTimestamp.After(b.EntryTimestamp)
}

// Size is the object/byte count pair used for back-pressure decisions and
// status aggregation.
type Size struct {
	ObjectCount int64
	ByteCount   int64
}

// Thresholds configures when a queue reports itself "full" to upstream
// schedulers, and how long a flow-file may sit enqueued before it expires.
type Thresholds struct {
	MaxObjectCount   int64
	MaxByteCount     int64
	ExpirationPeriod time.Duration
}

type entry struct {
	record   *flowfile.Record
	inserted int64 // monotonically increasing insertion sequence, tie-break
}

// Queue is the owned queue of a Connection (§3). It is safe for concurrent
// use: the scheduling agent's dispatch check and a processor's trigger
// enqueue/drain run on different goroutines.
type Queue struct {
	mu sync.Mutex

	id           string
	thresholds   Thresholds
	prioritizers []Prioritizer

	entries    []entry
	nextInsert int64

	size Size
}

// New constructs an empty queue for the connection identified by id.
func New(id string, thresholds Thresholds, prioritizers ...Prioritizer) *Queue {
	if len(prioritizers) == 0 {
		prioritizers = []Prioritizer{FIFOPrioritizer{}}
	}
	return &Queue{id: id, thresholds: thresholds, prioritizers: prioritizers}
}

func (q *Queue) ID() string { return q.id }

// Put enqueues a flow-file in prioritiser order. The invariant
// size.objectCount >= 0 && size.byteCount >= 0 is maintained by construction:
// Put only adds.
func (q *Queue) Put(r *flowfile.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r.QueueID = q.id
	e := entry{record: r, inserted: q.nextInsert}
	q.nextInsert++

	idx := q.insertionIndex(e)
	q.entries = append(q.entries, entry{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e

	q.size.ObjectCount++
	q.size.ByteCount += r.ByteSize()
}

func (q *Queue) insertionIndex(e entry) int {
	for i, existing := range q.entries {
		if q.less(e, existing) {
			return i
		}
	}
	return len(q.entries)
}

func (q *Queue) less(a, b entry) bool {
	for _, p := range q.prioritizers {
		if p.Less(a.record, b.record) {
			return true
		}
		if p.Less(b.record, a.record) {
			return false
		}
	}
	return a.inserted < b.inserted
}

// Poll removes and returns the highest-priority flow-file, or nil if the
// queue is empty.
func (q *Queue) Poll() *flowfile.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	q.size.ObjectCount--
	q.size.ByteCount -= e.record.ByteSize()
	return e.record
}

// PollBatch removes and returns up to max flow-files in priority order.
func (q *Queue) PollBatch(max int) []*flowfile.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]*flowfile.Record, n)
	for i := 0; i < n; i++ {
		out[i] = q.entries[i].record
		q.size.ObjectCount--
		q.size.ByteCount -= q.entries[i].record.ByteSize()
	}
	q.entries = q.entries[n:]
	return out
}

// Size returns the current object/byte counts.
func (q *Queue) Size() Size {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// IsEmpty reports whether the queue currently holds no flow-files; the
// event-driven work queue (§4.4) watches this transition.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) == 0
}

// SetThresholds replaces the queue's back-pressure/expiration
// configuration in place, the live-reconfiguration path a connection's
// update operation uses without needing to replace the queue (and lose
// its contents) to change a threshold.
func (q *Queue) SetThresholds(t Thresholds) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.thresholds = t
}

// IsFull reports whether either threshold has been reached, per §3's
// back-pressure invariant: count(Q) <= objectThreshold or "full" holds.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.thresholds.MaxObjectCount > 0 && q.size.ObjectCount >= q.thresholds.MaxObjectCount {
		return true
	}
	if q.thresholds.MaxByteCount > 0 && q.size.ByteCount >= q.thresholds.MaxByteCount {
		return true
	}
	return false
}

// ExpireOlderThan removes and returns flow-files whose entry timestamp
// precedes now - ExpirationPeriod. A zero ExpirationPeriod disables
// expiration.
func (q *Queue) ExpireOlderThan(now time.Time) []*flowfile.Record {
	if q.thresholds.ExpirationPeriod <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-q.thresholds.ExpirationPeriod)
	var expired []*flowfile.Record
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.record.EntryTimestamp.Before(cutoff) {
			expired = append(expired, e.record)
			q.size.ObjectCount--
			q.size.ByteCount -= e.record.ByteSize()
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	return expired
}
