package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/store"
)

func newSnapshot(t *testing.T) (*SnapshotService, *store.TrustStore, *store.ConversationStore, string) {
	t.Helper()
	ts := store.NewTrustStore()
	cs := store.NewConversationStore()
	path := filepath.Join(t.TempDir(), "state.ndjson")
	return NewSnapshotService(ts, cs, path, zap.NewNop()), ts, cs, path
}

func TestSnapshotSavesOnlyWhenDirty(t *testing.T) {
	svc, ts, _, path := newSnapshot(t)
	ctx := context.Background()

	entry := canonFact("s1", "saved fact", 0.7)
	if err := ts.Put(ctx, &entry); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := svc.Save(ctx); err != nil {
		t.Fatalf("first save: %v", err)
	}
	loaded, err := store.LoadState(path, store.LoadOptions{})
	if err != nil {
		t.Fatalf("load saved state: %v", err)
	}
	if len(loaded.Trust) != 1 || loaded.Trust[0].ID != "s1" {
		t.Fatalf("saved trust = %+v", loaded.Trust)
	}

	// Nothing changed: a clean store must not rewrite the file.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := svc.Save(ctx); err != nil {
		t.Fatalf("clean save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("clean save rewrote the file, stat err = %v", err)
	}

	// A mutation makes it dirty again.
	entry2 := canonFact("s2", "second fact", 0.2)
	if err := ts.Put(ctx, &entry2); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if err := svc.Save(ctx); err != nil {
		t.Fatalf("dirty save: %v", err)
	}
	loaded, err = store.LoadState(path, store.LoadOptions{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Trust) != 2 {
		t.Errorf("reloaded trust = %d entries, want 2", len(loaded.Trust))
	}
}

func TestSnapshotMarkSavedSuppressesRewrite(t *testing.T) {
	svc, ts, _, path := newSnapshot(t)
	ctx := context.Background()

	entry := canonFact("s1", "restored fact", 0.7)
	if err := ts.Put(ctx, &entry); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc.MarkSaved()

	if err := svc.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("save after MarkSaved wrote the file, stat err = %v", err)
	}
}

func TestSnapshotWorkerFlushesOnStop(t *testing.T) {
	svc, ts, cs, path := newSnapshot(t)
	svc.SetInterval(time.Hour)
	svc.Start()

	entry := canonFact("s1", "flushed fact", 0.7)
	if err := ts.Put(context.Background(), &entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	conv := convNode("c1", "", msg("m1", "user", "hello"))
	if err := cs.Put(context.Background(), &conv); err != nil {
		t.Fatalf("put conversation: %v", err)
	}

	svc.Stop()

	loaded, err := store.LoadState(path, store.LoadOptions{})
	if err != nil {
		t.Fatalf("state not flushed on stop: %v", err)
	}
	if len(loaded.Trust) != 1 || len(loaded.Conversations) != 1 {
		t.Errorf("flushed state = %d trust, %d conversations, want 1 and 1",
			len(loaded.Trust), len(loaded.Conversations))
	}
}
