package registry

import (
	"testing"

	"github.com/shelfdapp/shelfd/internal/data"
)

func desc(owner, asset string, size int64) data.AssetDescriptor {
	return data.AssetDescriptor{
		OwnerID:  owner,
		AssetID:  asset,
		Kind:     data.KindBook,
		BaseURL:  "https://cdn.example.com/",
		Src:      asset + ".zip",
		Size:     size,
		Checksum: "sha-" + asset,
	}
}

func TestResolve(t *testing.T) {
	t.Run("idempotent for same facts", func(t *testing.T) {
		r := New(nil)
		first := r.Resolve(desc("book1", "asset1", 100), false)
		second := r.Resolve(desc("book1", "asset1", 100), false)
		if !first.SameDownload(second) {
			t.Fatalf("expected same download, got %+v vs %+v", first, second)
		}
		if got := len(r.Snapshot()); got != 1 {
			t.Fatalf("expected 1 unit, got %d", got)
		}
	})

	t.Run("replaces unit when manifest facts change", func(t *testing.T) {
		r := New(nil)
		first := r.Resolve(desc("book1", "asset1", 100), false)
		if _, err := r.Update(first.Key(), func(u *data.Unit) {
			u.Status = data.StatusCompleted
			u.Progress = 100
		}); err != nil {
			t.Fatalf("update: %v", err)
		}

		d := desc("book1", "asset1", 100)
		d.Checksum = "sha-new"
		replaced := r.Resolve(d, false)
		if replaced.Status != data.StatusNotStarted {
			t.Fatalf("expected fresh unit, got status %s", replaced.Status)
		}
	})

	t.Run("replacement unit keeps downloaded synthesis", func(t *testing.T) {
		r := New(nil)
		r.Resolve(desc("book1", "asset1", 100), false)

		d := desc("book1", "asset1", 100)
		d.Checksum = "sha-new"
		replaced := r.Resolve(d, true)
		if replaced.Status != data.StatusCompleted || replaced.Progress != 100 {
			t.Fatalf("expected completed replacement, got %s/%v", replaced.Status, replaced.Progress)
		}
	})

	t.Run("synthesizes completed unit for downloaded asset", func(t *testing.T) {
		r := New(nil)
		u := r.Resolve(desc("book1", "asset1", 100), true)
		if u.Status != data.StatusCompleted || u.Progress != 100 {
			t.Fatalf("expected completed unit, got %s/%v", u.Status, u.Progress)
		}
		if u.CorrelationID != data.NoCorrelation {
			t.Fatalf("synthesized unit must not own a correlation id")
		}
	})
}

func TestSnapshotOrder(t *testing.T) {
	r := New(nil)
	r.Resolve(desc("book1", "b", 1), false)
	r.Resolve(desc("book1", "a", 1), false)
	r.Resolve(desc("book1", "c", 1), false)

	snap := r.Snapshot()
	want := []string{"b", "a", "c"}
	if len(snap) != len(want) {
		t.Fatalf("expected %d units, got %d", len(want), len(snap))
	}
	for i, id := range want {
		if snap[i].AssetID != id {
			t.Fatalf("expected %s at position %d, got %s", id, i, snap[i].AssetID)
		}
	}
}

func TestCommittedSize(t *testing.T) {
	r := New(nil)
	live := r.Resolve(desc("book1", "a", 300), false)
	done := r.Resolve(desc("book1", "b", 500), false)
	r.Resolve(desc("book1", "c", 700), false)

	if _, err := r.Update(live.Key(), func(u *data.Unit) { u.Status = data.StatusInProgress }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := r.Update(done.Key(), func(u *data.Unit) { u.Status = data.StatusCompleted }); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := r.CommittedSize(); got != 300 {
		t.Fatalf("expected committed size 300, got %d", got)
	}
	if got := len(r.Live()); got != 1 {
		t.Fatalf("expected 1 live unit, got %d", got)
	}
}

func TestByCorrelation(t *testing.T) {
	r := New(nil)
	u := r.Resolve(desc("book1", "a", 1), false)
	if _, err := r.Update(u.Key(), func(x *data.Unit) {
		x.Status = data.StatusQueued
		x.CorrelationID = 42
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, ok := r.ByCorrelation(42)
	if !ok || got.AssetID != "a" {
		t.Fatalf("expected unit a by correlation, got %+v ok=%v", got, ok)
	}
	if _, ok := r.ByCorrelation(data.NoCorrelation); ok {
		t.Fatal("NoCorrelation must never match")
	}

	updated, err := r.UpdateByCorrelation(42, func(x *data.Unit) { x.Progress = 50 })
	if err != nil || updated.Progress != 50 {
		t.Fatalf("update by correlation: %v %+v", err, updated)
	}
	if _, err := r.UpdateByCorrelation(99, func(*data.Unit) {}); err == nil {
		t.Fatal("expected error for unknown correlation id")
	}
}

func TestRemove(t *testing.T) {
	r := New(nil)
	u := r.Resolve(desc("book1", "a", 1), false)
	r.Resolve(desc("book1", "b", 1), false)

	r.Remove(u.Key())
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].AssetID != "b" {
		t.Fatalf("expected only b to survive, got %+v", snap)
	}
	if _, err := r.Get(u.Key()); err == nil {
		t.Fatal("expected ErrNotFound after removal")
	}
}
