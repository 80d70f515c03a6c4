package audit

import (
	"testing"
)

func TestChainVerifies(t *testing.T) {
	l := New()
	l.Record(EventAccountCreated, "acc-1", "")
	l.Record(EventSessionCreated, "acc-1", "sess-1")
	l.Record(EventOrgCreated, "acc-1", "org-1")

	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(l.Entries()) != 3 {
		t.Fatalf("got %d entries, want 3", len(l.Entries()))
	}
}

func TestTamperingDetected(t *testing.T) {
	l := New()
	l.Record(EventAccountCreated, "acc-1", "")
	l.Record(EventMemberRemoved, "acc-1", "acc-2")

	l.entries[1].Account = "acc-3"
	if err := l.Verify(); err == nil {
		t.Fatalf("tampered entry not detected")
	}
}

func TestEntryIDsAreSortable(t *testing.T) {
	l := New()
	a := l.Record(EventSessionCreated, "acc-1", "s1")
	b := l.Record(EventSessionCreated, "acc-1", "s2")
	if !(a.ID < b.ID) {
		t.Fatalf("ulid ids not monotonically sortable: %s vs %s", a.ID, b.ID)
	}
}
