// Package memrepo implements the bulletin repository of §4.10: a
// fixed-capacity in-memory ring buffer. Bulletins are genuinely transient
// (§9 design notes), so no durable backing improves on this — the
// stdlib-only choice here is deliberate, not a fallback.
package memrepo

import (
	"sync"

	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/repository"
)

const BulletinClassName = "memory"

const defaultCapacity = 1000

// BulletinRepository is a ring buffer over the most recent bulletins.
type BulletinRepository struct {
	mu       sync.Mutex
	capacity int
	buf      []repository.Bulletin
	start    int // index of the oldest entry
	count    int
	nextID   int64

	override func(b repository.Bulletin)
}

func init() {
	registry.RegisterPlugin(registry.BulletinRepoPlugin, BulletinClassName, &BulletinRepository{}, true)
}

// Configure implements registry.Plugin. Expected key: "capacity".
func (b *BulletinRepository) Configure(controllerID string, data map[string]interface{}) error {
	capacity := defaultCapacity
	if c, ok := data["capacity"].(int); ok && c > 0 {
		capacity = c
	}
	b.capacity = capacity
	b.buf = make([]repository.Bulletin, capacity)
	return nil
}

// Add appends a bulletin, overwriting the oldest entry once capacity is
// reached, and forwards it to the override hook if one is set.
func (b *BulletinRepository) Add(bulletin repository.Bulletin) {
	b.mu.Lock()
	if b.buf == nil {
		b.buf = make([]repository.Bulletin, defaultCapacity)
		b.capacity = defaultCapacity
	}
	b.nextID++
	bulletin.ID = b.nextID

	idx := (b.start + b.count) % b.capacity
	b.buf[idx] = bulletin
	if b.count < b.capacity {
		b.count++
	} else {
		b.start = (b.start + 1) % b.capacity
	}
	override := b.override
	b.mu.Unlock()

	if override != nil {
		override(bulletin)
	}
}

// Drain removes and returns up to max of the oldest buffered bulletins, in
// order.
func (b *BulletinRepository) Drain(max int) []repository.Bulletin {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := max
	if n > b.count || n <= 0 {
		n = b.count
	}
	out := make([]repository.Bulletin, n)
	for i := 0; i < n; i++ {
		out[i] = b.buf[(b.start+i)%b.capacity]
	}
	b.start = (b.start + n) % b.capacity
	b.count -= n
	return out
}

// SetOverride installs a hook invoked synchronously on every Add, the
// cluster-mode diversion hook of §6 (e.g. feeding the heartbeat bulletins
// task directly instead of waiting for its own drain cadence).
func (b *BulletinRepository) SetOverride(f func(bulletin repository.Bulletin)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.override = f
}
