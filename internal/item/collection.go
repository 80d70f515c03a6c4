package item

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// Collection is a mergeable set of items. Concurrent edits converge via
// last-write-wins on the Updated timestamp; equal timestamps are broken
// by comparing the serialized items, so merging in either order yields
// the same result and no concurrent edit is dropped silently. Removals
// leave tombstones so deletions survive merges with stale replicas.
//
// Local changes are tracked separately so a sync can snapshot "changes
// made before the sync started" without clobbering edits made while the
// push was in flight.
type Collection struct {
	items      map[string]Item
	tombstones map[string]time.Time
	changes    map[string]time.Time
}

func NewCollection() *Collection {
	return &Collection{
		items:      make(map[string]Item),
		tombstones: make(map[string]time.Time),
		changes:    make(map[string]time.Time),
	}
}

func (c *Collection) Size() int { return len(c.items) }

// Get returns the item with the given id, if present.
func (c *Collection) Get(id string) (Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// All returns the items sorted by id.
func (c *Collection) All() []Item {
	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update adds or replaces items, stamping them as changed now.
func (c *Collection) Update(items ...Item) {
	now := time.Now().UTC()
	for _, it := range items {
		it.Updated = now
		c.items[it.ID] = it
		delete(c.tombstones, it.ID)
		c.changes[it.ID] = now
	}
}

// Remove deletes items, leaving tombstones.
func (c *Collection) Remove(items ...Item) {
	now := time.Now().UTC()
	for _, it := range items {
		delete(c.items, it.ID)
		c.tombstones[it.ID] = now
		c.changes[it.ID] = now
	}
}

// HasChanges reports whether local changes exist that have not been
// cleared since the last successful sync.
func (c *Collection) HasChanges() bool { return len(c.changes) > 0 }

// ClearChanges forgets change marks made at or before the given time.
// A zero time clears everything.
func (c *Collection) ClearChanges(before time.Time) {
	for id, at := range c.changes {
		if before.IsZero() || !at.After(before) {
			delete(c.changes, id)
		}
	}
}

// Merge consolidates the remote collection into this one. It is
// commutative and idempotent with respect to the resulting item set.
func (c *Collection) Merge(other *Collection) {
	for id, remote := range other.items {
		if ts, dead := c.tombstones[id]; dead {
			if remote.Updated.After(ts) {
				delete(c.tombstones, id)
				c.items[id] = remote
			}
			continue
		}
		local, ok := c.items[id]
		if !ok || itemWins(remote, local) {
			c.items[id] = remote
		}
	}
	// Tombstones lose ties against a surviving item so equal-time
	// outcomes are identical regardless of merge order.
	for id, ts := range other.tombstones {
		if local, ok := c.items[id]; ok {
			if ts.After(local.Updated) {
				delete(c.items, id)
				c.tombstones[id] = ts
			}
			continue
		}
		if cur, ok := c.tombstones[id]; !ok || ts.After(cur) {
			c.tombstones[id] = ts
		}
	}
}

// itemWins decides whether the remote version of one item replaces the
// local one. Newer Updated wins; equal timestamps fall back to a byte
// comparison of the serialized items so the outcome is reproducible on
// both replicas.
func itemWins(remote, local Item) bool {
	if !remote.Updated.Equal(local.Updated) {
		return remote.Updated.After(local.Updated)
	}
	rb, _ := json.Marshal(remote)
	lb, _ := json.Marshal(local)
	return bytes.Compare(rb, lb) > 0
}

type collectionRaw struct {
	Items      []Item               `json:"items"`
	Tombstones map[string]time.Time `json:"tombstones,omitempty"`
	Changes    map[string]time.Time `json:"changes,omitempty"`
}

func (c *Collection) MarshalJSON() ([]byte, error) {
	return json.Marshal(collectionRaw{
		Items:      c.All(),
		Tombstones: c.tombstones,
		Changes:    c.changes,
	})
}

func (c *Collection) UnmarshalJSON(data []byte) error {
	var raw collectionRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.items = make(map[string]Item, len(raw.Items))
	for _, it := range raw.Items {
		c.items[it.ID] = it
	}
	c.tombstones = raw.Tombstones
	if c.tombstones == nil {
		c.tombstones = make(map[string]time.Time)
	}
	c.changes = raw.Changes
	if c.changes == nil {
		c.changes = make(map[string]time.Time)
	}
	return nil
}
