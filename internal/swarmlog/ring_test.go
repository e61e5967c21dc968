package swarmlog

import (
	"strings"
	"testing"
	"time"
)

func TestRingDumpReturnsOldestFirst(t *testing.T) {
	r := NewRing(3)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	r.Println("one")
	r.Println("two")
	r.Println("three")

	got := r.Dump()
	if len(got) != 3 {
		t.Fatalf("Dump() len = %d, want 3", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if !strings.Contains(got[i], want) {
			t.Fatalf("Dump()[%d] = %q, want it to contain %q", i, got[i], want)
		}
	}
}

func TestRingOverwritesOldestOnceFull(t *testing.T) {
	r := NewRing(2)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	r.Println("one")
	r.Println("two")
	r.Println("three")

	got := r.Dump()
	if len(got) != 2 {
		t.Fatalf("Dump() len = %d, want 2", len(got))
	}
	if !strings.Contains(got[0], "two") || !strings.Contains(got[1], "three") {
		t.Fatalf("Dump() = %v, want [two, three]", got)
	}
}

func TestRingLenBoundedBySize(t *testing.T) {
	r := NewRing(2)

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 on an empty ring", r.Len())
	}
	r.Println("one")
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	r.Println("two")
	r.Println("three")
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (capped at size)", r.Len())
	}
}

func TestRingPrintlnPrefixesTimestamp(t *testing.T) {
	r := NewRing(1)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

	r.Println("hello")

	got := r.Dump()
	if len(got) != 1 {
		t.Fatalf("Dump() len = %d, want 1", len(got))
	}
	want := time.Unix(1_700_000_000, 0).UTC().Format(ringTimeLayout)
	if !strings.HasPrefix(got[0], want) {
		t.Fatalf("Dump()[0] = %q, want prefix %q", got[0], want)
	}
}
