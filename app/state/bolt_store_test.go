package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestBoltStore_Watermarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	ctx := context.Background()

	if mark, err := store.GetWatermark(ctx, "latest"); err != nil || mark != nil {
		t.Fatalf("Expected no watermark, got %v, %v", mark, err)
	}

	t1 := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	if err := store.AdvanceWatermark(ctx, "latest", t2); err != nil {
		t.Fatalf("AdvanceWatermark failed: %v", err)
	}
	if err := store.AdvanceWatermark(ctx, "latest", t1); err != nil {
		t.Fatalf("AdvanceWatermark failed: %v", err)
	}

	mark, _ := store.GetWatermark(ctx, "latest")
	if mark == nil || !mark.Equal(t2) {
		t.Errorf("Expected watermark not to move back, got %v", mark)
	}

	store.Close()

	reopened, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	marks, err := reopened.ListWatermarks(ctx)
	if err != nil || len(marks) != 1 || !marks["latest"].Equal(t2) {
		t.Errorf("Expected persisted watermark, got %v, %v", marks, err)
	}
}
