package engine

import (
	"testing"
	"time"

	"price-gap-monitor/internal/storage"
)

func TestDeduplicatorWindowStart(t *testing.T) {
	d := Deduplicator{Window: 24 * time.Hour}
	want := baseTime.Add(-24 * time.Hour)
	if got := d.WindowStart(baseTime); !got.Equal(want) {
		t.Fatalf("window start = %s, want %s", got, want)
	}
}

func TestDeduplicatorIsDuplicate(t *testing.T) {
	d := Deduplicator{Window: 24 * time.Hour}

	if d.IsDuplicate(nil) {
		t.Fatal("empty window must not suppress")
	}
	if !d.IsDuplicate([]storage.Alert{{ID: 1}}) {
		t.Fatal("an alert inside the window must suppress")
	}
	// Resolution does not end the window early.
	if !d.IsDuplicate([]storage.Alert{{ID: 1, Resolved: true}}) {
		t.Fatal("a resolved alert inside the window must still suppress")
	}
}
