// Package contentclaim implements the in-memory reference counter over
// immutable content-claim identities described in §4.8. A claim's identity
// is the (container, section, id) tuple; the manager hands out handles and
// tracks how many flow-files currently reference each one so the external
// content repository knows when it may reclaim storage.
package contentclaim

import (
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/juju/errors"
)

// Claim is the immutable identity of a blob in the content repository.
type Claim struct {
	Container     string
	Section       string
	Identifier    string
	LossTolerant  bool
}

func (c Claim) key() string {
	return c.Container + "\x00" + c.Section + "\x00" + c.Identifier
}

// shardCount is the number of lock stripes the manager hashes claims
// across. Per-claim counters are atomic int64s; the stripe lock only
// guards the map itself (insertion/deletion of entries), so concurrent
// increments/decrements on different claims rarely contend.
const shardCount = 32

type shard struct {
	mu       sync.Mutex
	counters map[string]*int64
}

// Manager is the content-claim manager of §4.8. It is safe for concurrent
// use by many scheduling-agent worker goroutines at once.
type Manager struct {
	shards [shardCount]*shard
}

// NewManager constructs an empty claim manager.
func NewManager() *Manager {
	m := &Manager{}
	for i := range m.shards {
		m.shards[i] = &shard{counters: make(map[string]*int64)}
	}
	return m
}

func (m *Manager) shardFor(c Claim) *shard {
	h := xxhash.New32()
	_, _ = h.Write([]byte(c.key()))
	return m.shards[h.Sum32()%shardCount]
}

// NewClaim returns a handle for the given identity. It does not itself
// change the claimant count — callers must Increment separately, matching
// the original's newContentClaim/incrementClaimantCount split (replay, for
// example, creates the claim before deciding whether to keep it).
func (m *Manager) NewClaim(container, section, id string, lossTolerant bool) Claim {
	return Claim{Container: container, Section: section, Identifier: id, LossTolerant: lossTolerant}
}

func (m *Manager) counterFor(c Claim, createIfMissing bool) *int64 {
	s := m.shardFor(c)
	key := c.key()

	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[key]
	if !ok {
		if !createIfMissing {
			return nil
		}
		var zero int64
		counter = &zero
		s.counters[key] = counter
	}
	return counter
}

// Increment raises the claimant count for c and returns the new value.
func (m *Manager) Increment(c Claim) int64 {
	counter := m.counterFor(c, true)
	return atomic.AddInt64(counter, 1)
}

// Decrement lowers the claimant count for c and returns the residual
// count. Decrementing an unknown claim is a programming error: a decrement
// must always be paired with a prior increment.
func (m *Manager) Decrement(c Claim) (int64, error) {
	counter := m.counterFor(c, false)
	if counter == nil {
		return 0, errors.Errorf("decrement of unknown content claim %+v", c)
	}
	residual := atomic.AddInt64(counter, -1)
	if residual < 0 {
		return residual, errors.Errorf("claimant count for %+v went negative", c)
	}
	return residual, nil
}

// Count returns the current claimant count for c, 0 if never claimed.
func (m *Manager) Count(c Claim) int64 {
	counter := m.counterFor(c, false)
	if counter == nil {
		return 0
	}
	return atomic.LoadInt64(counter)
}
