// Package cache implements the gateway's last-value store: a concurrent
// keyed map from ChannelKey to a last value plus a bounded ring of recent
// frames, serialized per key so a newly attached subscriber can replay
// consistent state without waiting for a fresh upstream tick.
package cache

import (
	"sync"

	"github.com/odinmarkets/gateway/internal/metrics"
	"github.com/odinmarkets/gateway/internal/model"
)

// ringSize returns the channel-kind dependent ring capacity: tickers and
// book snapshots only ever need the last value, deltas need a trailing
// window so a snapshot-then-deltas replay can be reconstructed.
func ringSize(kind model.ChannelKind, deltaSize int) int {
	switch kind {
	case model.ChannelBookDelta:
		if deltaSize <= 0 {
			return 64
		}
		return deltaSize
	default:
		return 1
	}
}

type entry struct {
	mu       sync.Mutex
	last     model.Event
	snapshot model.Event   // most recent BookSnapshot, book channels only
	deltas   []model.Event // ring of BookDelta following snapshot
	ringCap  int
}

func newEntry(kind model.ChannelKind, deltaRingSize int) *entry {
	cap := ringSize(kind, deltaRingSize)
	return &entry{ringCap: cap}
}

func (e *entry) put(ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = ev
	switch v := ev.(type) {
	case model.BookSnapshot:
		e.snapshot = v
		e.deltas = e.deltas[:0]
	case model.BookDelta:
		e.deltas = append(e.deltas, v)
		if len(e.deltas) > e.ringCap {
			e.deltas = e.deltas[len(e.deltas)-e.ringCap:]
		}
	}
}

func (e *entry) getLast() (model.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil, false
	}
	return e.last, true
}

// snapshotAndDeltas returns the most recent BookSnapshot (if any) and the
// BookDelta tail published after it, taken atomically under the per-key
// lock so a reader never sees a delta that precedes the returned snapshot.
func (e *entry) snapshotAndDeltas() (model.Event, []model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Event, len(e.deltas))
	copy(out, e.deltas)
	return e.snapshot, out
}

// Cache is the concurrent per-ChannelKey last-value and ring-buffer store.
type Cache struct {
	deltaRingSize int
	metrics       *metrics.Registry

	mu      sync.RWMutex
	entries map[model.ChannelKey]*entry
}

// New constructs an empty cache. deltaRingSize configures the BookDelta
// ring capacity; tickers and book snapshots always keep exactly one slot.
func New(deltaRingSize int, reg *metrics.Registry) *Cache {
	return &Cache{
		deltaRingSize: deltaRingSize,
		metrics:       reg,
		entries:       make(map[model.ChannelKey]*entry),
	}
}

func (c *Cache) entryFor(key model.ChannelKey) *entry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; ok {
		return e
	}
	e = newEntry(key.Kind, c.deltaRingSize)
	c.entries[key] = e
	if c.metrics != nil {
		c.metrics.CacheSize.WithLabelValues(string(key.Kind)).Inc()
	}
	return e
}

// Put overwrites the last value for key and pushes into its ring. Never
// blocks on other keys; per-key writes are serialized by the entry's mutex.
func (c *Cache) Put(key model.ChannelKey, ev model.Event) {
	c.entryFor(key).put(ev)
	if c.metrics != nil {
		c.metrics.CacheWrites.WithLabelValues(string(key.Kind)).Inc()
	}
}

// GetLast returns the last value published for key, if any.
func (c *Cache) GetLast(key model.ChannelKey) (model.Event, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.getLast()
}

// Snapshot returns the cached state needed to replay key to a newcomer: for
// book channels, the last snapshot plus the delta tail published after it;
// for other channels, the single last value with no tail.
func (c *Cache) Snapshot(key model.ChannelKey) (last model.Event, tail []model.Event, ok bool) {
	c.mu.RLock()
	e, present := c.entries[key]
	c.mu.RUnlock()
	if !present {
		return nil, nil, false
	}
	if !key.Kind.IsBook() {
		v, has := e.getLast()
		return v, nil, has
	}
	snap, deltas := e.snapshotAndDeltas()
	if snap == nil && len(deltas) == 0 {
		return nil, nil, false
	}
	return snap, deltas, true
}

// Evict drops a key's cached state entirely, used when a topic is
// destroyed so a future re-attach starts from a clean replay.
func (c *Cache) Evict(key model.ChannelKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		if c.metrics != nil {
			c.metrics.CacheSize.WithLabelValues(string(key.Kind)).Dec()
		}
	}
}
