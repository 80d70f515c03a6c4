package item

import (
	"encoding/json"
	"testing"
	"time"
)

func mkItem(id, name string, updated time.Time) Item {
	return Item{
		ID:      id,
		Name:    name,
		Updated: updated,
		Fields:  []Field{{Name: "password", Value: "secret", Type: FieldPassword}},
	}
}

func fromItems(items ...Item) *Collection {
	c := NewCollection()
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func TestCollectionUpdateAndGet(t *testing.T) {
	c := NewCollection()
	c.Update(Item{ID: "a", Name: "first"})
	got, ok := c.Get("a")
	if !ok {
		t.Fatalf("item not found after update")
	}
	if got.Name != "first" {
		t.Fatalf("got name %q, want %q", got.Name, "first")
	}
	if got.Updated.IsZero() {
		t.Fatalf("Updated not stamped")
	}
	if !c.HasChanges() {
		t.Fatalf("expected pending changes after update")
	}
}

func TestCollectionRemoveLeavesTombstone(t *testing.T) {
	c := NewCollection()
	c.Update(Item{ID: "a"})
	it, _ := c.Get("a")
	c.Remove(it)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("item still present after remove")
	}
	if _, ok := c.tombstones["a"]; !ok {
		t.Fatalf("no tombstone after remove")
	}
}

func TestMergeNewerWins(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := old.Add(time.Hour)

	local := fromItems(mkItem("a", "stale", old))
	remote := fromItems(mkItem("a", "fresh", newer))

	local.Merge(remote)
	got, _ := local.Get("a")
	if got.Name != "fresh" {
		t.Fatalf("merge kept stale item, got %q", got.Name)
	}

	// The older copy must not undo the newer one.
	local.Merge(fromItems(mkItem("a", "stale", old)))
	got, _ = local.Get("a")
	if got.Name != "fresh" {
		t.Fatalf("older remote overwrote newer local")
	}
}

func TestMergeCommutative(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkItem("x", "alpha", ts)
	b := mkItem("x", "bravo", ts)

	left := fromItems(a)
	left.Merge(fromItems(b))

	right := fromItems(b)
	right.Merge(fromItems(a))

	li, _ := left.Get("x")
	ri, _ := right.Get("x")
	if li.Name != ri.Name {
		t.Fatalf("merge order changed outcome: %q vs %q", li.Name, ri.Name)
	}
}

func TestMergeIdempotent(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	remote := fromItems(mkItem("a", "one", ts), mkItem("b", "two", ts))
	local := NewCollection()

	local.Merge(remote)
	first, _ := json.Marshal(local)
	local.Merge(remote)
	second, _ := json.Marshal(local)

	if string(first) != string(second) {
		t.Fatalf("repeated merge changed state:\n%s\n%s", first, second)
	}
}

func TestMergeTombstoneBeatsOlderUpdate(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	local := fromItems(mkItem("a", "kept", old))
	remote := NewCollection()
	remote.tombstones["a"] = old.Add(time.Minute)

	local.Merge(remote)
	if _, ok := local.Get("a"); ok {
		t.Fatalf("deletion lost against older update")
	}

	// A later edit resurrects the item.
	local.Merge(fromItems(mkItem("a", "revived", old.Add(time.Hour))))
	got, ok := local.Get("a")
	if !ok || got.Name != "revived" {
		t.Fatalf("newer update did not win over tombstone")
	}
}

func TestClearChangesSnapshot(t *testing.T) {
	c := NewCollection()
	c.Update(Item{ID: "a"})
	cutoff := time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	c.Update(Item{ID: "b"})

	c.ClearChanges(cutoff)
	if _, ok := c.changes["a"]; ok {
		t.Fatalf("change before cutoff not cleared")
	}
	if _, ok := c.changes["b"]; !ok {
		t.Fatalf("change after cutoff was cleared")
	}

	c.ClearChanges(time.Time{})
	if c.HasChanges() {
		t.Fatalf("zero cutoff should clear everything")
	}
}

func TestCollectionJSONRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := fromItems(mkItem("a", "one", ts))
	c.tombstones["gone"] = ts

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewCollection()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.Size() != 1 {
		t.Fatalf("got %d items, want 1", restored.Size())
	}
	if _, ok := restored.tombstones["gone"]; !ok {
		t.Fatalf("tombstone lost in round trip")
	}
}
