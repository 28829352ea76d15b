package state

import (
	"errors"
	"testing"

	"vchain/storage"
)

type record struct {
	Name  string
	Value uint64
}

func TestKVRoundTripAndCommit(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	if err := m.KVPut([]byte("rec"), record{Name: "a", Value: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err := m.KVGet([]byte("rec"), &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Value != 7 {
		t.Fatalf("unexpected value %+v", got)
	}
	if len(db.Keys()) != 0 {
		t.Fatalf("write reached database before commit")
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(db.Keys()) != 1 {
		t.Fatalf("expected 1 persisted key, got %d", len(db.Keys()))
	}

	fresh := NewManager(db)
	got = record{}
	ok, err = fresh.KVGet([]byte("rec"), &got)
	if err != nil || !ok || got.Name != "a" {
		t.Fatalf("reload failed: ok=%v err=%v rec=%+v", ok, err, got)
	}
}

func TestRevertToSnapshot(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if err := m.KVPut([]byte("k"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap := m.Snapshot()
	if err := m.KVPut([]byte("k"), uint64(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.KVPut([]byte("other"), uint64(3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	m.RevertToSnapshot(snap)

	var v uint64
	ok, err := m.KVGet([]byte("k"), &v)
	if err != nil || !ok || v != 1 {
		t.Fatalf("expected k=1 after revert, ok=%v v=%d err=%v", ok, v, err)
	}
	ok, _ = m.KVGet([]byte("other"), nil)
	if ok {
		t.Fatalf("expected other to vanish after revert")
	}
}

func TestDeleteHidesCommittedValue(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	_ = m.KVPut([]byte("k"), uint64(5))
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = m.KVDelete([]byte("k"))
	if ok, _ := m.KVGet([]byte("k"), nil); ok {
		t.Fatalf("deleted key still visible")
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(db.Keys()) != 0 {
		t.Fatalf("delete not persisted")
	}
}

func TestListHelpersAndNamespace(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	_ = m.KVAppend([]byte("list"), []byte("a"))
	_ = m.KVAppend([]byte("list"), []byte("b"))
	_ = m.KVAppend([]byte("list"), []byte("a"))
	var list [][]byte
	if err := m.KVGetList([]byte("list"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected deduplicated list of 2, got %d", len(list))
	}
	removed, err := m.KVRemove([]byte("list"), []byte("a"))
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	var empty [][]byte
	if err := m.KVGetList([]byte("missing"), &empty); err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v err=%v", empty, err)
	}

	ns := NewNamespace(m, "impl")
	if err := ns.KVPut([]byte("list"), uint64(9)); err != nil {
		t.Fatalf("namespaced put: %v", err)
	}
	var v uint64
	if ok, _ := ns.KVGet([]byte("list"), &v); !ok || v != 9 {
		t.Fatalf("namespaced get failed")
	}
	list = nil
	_ = m.KVGetList([]byte("list"), &list)
	if len(list) != 1 {
		t.Fatalf("namespace write leaked into chain key")
	}
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	if err := EnsureStateVersion(NewManager(db), false); err != nil {
		t.Fatalf("stamp fresh state: %v", err)
	}
	m := NewManager(db)
	version, ok, err := m.StateVersion()
	if err != nil || !ok || version != StateVersion {
		t.Fatalf("unexpected version %d ok=%v err=%v", version, ok, err)
	}

	if err := m.SetStateVersion(StateVersion + 1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	err = EnsureStateVersion(NewManager(db), false)
	if !errors.Is(err, ErrStateVersionMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := EnsureStateVersion(NewManager(db), true); err != nil {
		t.Fatalf("allow migrate: %v", err)
	}
}
