package storage

import (
	"errors"
	"testing"
)

func TestManagerSnapshotIsolation(t *testing.T) {
	mgr := NewManager()
	if err := mgr.CreateHeap(1, 2); err != nil {
		t.Fatalf("create heap: %v", err)
	}
	before, err := mgr.Snapshot(1, Latest)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	rid, err := mgr.AllocateRowID(1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	epoch, err := mgr.Publish(map[TableID][]Row{1: {{ID: rid, Values: []interface{}{int64(1), "HR"}}}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if epoch != 1 {
		t.Fatalf("expected epoch 1, got %d", epoch)
	}
	if before.Len() != 0 {
		t.Fatalf("earlier snapshot must not observe the commit, saw %d rows", before.Len())
	}
	after, err := mgr.Snapshot(1, Latest)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if after.Len() != 1 {
		t.Fatalf("expected 1 row after commit, got %d", after.Len())
	}
	old, err := mgr.Snapshot(1, 0)
	if err != nil {
		t.Fatalf("snapshot at epoch 0: %v", err)
	}
	if old.Len() != 0 {
		t.Fatalf("expected epoch 0 view to be empty, got %d", old.Len())
	}
}

func TestManagerRowIDsNeverReused(t *testing.T) {
	mgr := NewManager()
	if err := mgr.CreateHeap(7, 1); err != nil {
		t.Fatalf("create heap: %v", err)
	}
	first, _ := mgr.AllocateRowID(7)
	if _, err := mgr.Publish(map[TableID][]Row{7: {{ID: first, Values: []interface{}{"a"}}}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := mgr.Publish(map[TableID][]Row{7: nil}); err != nil {
		t.Fatalf("publish delete: %v", err)
	}
	second, _ := mgr.AllocateRowID(7)
	if second <= first {
		t.Fatalf("row id %d reused after delete (first %d)", second, first)
	}
}

func TestManagerPublishIsAtomic(t *testing.T) {
	mgr := NewManager()
	if err := mgr.CreateHeap(1, 1); err != nil {
		t.Fatalf("create heap: %v", err)
	}
	_, err := mgr.Publish(map[TableID][]Row{
		1: {{ID: 1, Values: []interface{}{"x"}}},
		2: {{ID: 1, Values: []interface{}{"y"}}},
	})
	if !errors.Is(err, ErrUnknownHeap) {
		t.Fatalf("expected ErrUnknownHeap, got %v", err)
	}
	count, _ := mgr.RowCount(1)
	if count != 0 {
		t.Fatalf("failed publish leaked %d rows", count)
	}
	if mgr.Epoch() != 0 {
		t.Fatalf("failed publish advanced epoch to %d", mgr.Epoch())
	}
}

func TestManagerAddColumnAndPrune(t *testing.T) {
	mgr := NewManager()
	if err := mgr.CreateHeap(1, 1); err != nil {
		t.Fatalf("create heap: %v", err)
	}
	for i := 0; i < 3; i++ {
		rid, _ := mgr.AllocateRowID(1)
		snap, _ := mgr.Snapshot(1, Latest)
		rows := append(snap.Rows(), Row{ID: rid, Values: []interface{}{int64(i)}})
		if _, err := mgr.Publish(map[TableID][]Row{1: rows}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := mgr.AddColumn(1); err != nil {
		t.Fatalf("add column: %v", err)
	}
	snap, _ := mgr.Snapshot(1, Latest)
	if snap.Width() != 2 {
		t.Fatalf("expected width 2, got %d", snap.Width())
	}
	it := snap.Iterator()
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		if len(row.Values) != 2 || row.Values[1] != nil {
			t.Fatalf("expected trailing NULL, got %v", row.Values)
		}
	}
	it.Rewind()
	if _, ok := it.Next(); !ok {
		t.Fatalf("expected rewind to restart iteration")
	}
	if released := mgr.Prune(2); released != 2 {
		t.Fatalf("expected 2 versions released, got %d", released)
	}
	old, _ := mgr.Snapshot(1, 2)
	if old.Len() != 2 {
		t.Fatalf("expected epoch 2 version retained with 2 rows, got %d", old.Len())
	}
	if released := mgr.Prune(NoActiveReaders); released != 1 {
		t.Fatalf("expected 1 version released, got %d", released)
	}
}
