package lock

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return store
}

func TestAcquireAndRelease(t *testing.T) {
	store := openTestStore(t)

	if err := store.Acquire("CodingWorkflow", "node-1", "instance-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int64
	store.db.Model(&Record{}).Where("workflow_name = ? AND node_name = ?", "CodingWorkflow", "node-1").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 lock row, got %d", count)
	}

	if err := store.Release("CodingWorkflow", "node-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.db.Model(&Record{}).Where("workflow_name = ? AND node_name = ?", "CodingWorkflow", "node-1").Count(&count)
	if count != 0 {
		t.Fatalf("expected lock row to be released, got %d remaining", count)
	}
}

func TestSweepForeignInstancesKeepsOwnLocks(t *testing.T) {
	store := openTestStore(t)

	if err := store.Acquire("CodingWorkflow", "node-1", "instance-old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Acquire("CodingWorkflow", "node-2", "instance-new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	removed, err := store.SweepForeignInstances("instance-new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 foreign lock removed, got %d", removed)
	}

	var count int64
	store.db.Model(&Record{}).Where("node_name = ?", "node-2").Count(&count)
	if count != 1 {
		t.Fatalf("expected the owning instance's lock to survive the sweep")
	}
}
