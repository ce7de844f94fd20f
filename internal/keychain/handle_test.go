package keychain

import (
	"errors"
	"testing"
)

func testHandle(t *testing.T) *Handle {
	t.Helper()
	h := NewHandle(NewMemoryEngine().Open(PathID("/tmp/keyring-test/h.keychain")))
	if err := h.Create([]byte("pw")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h
}

func TestHandleItemIsCanonical(t *testing.T) {
	h := testHandle(t)
	rec := genericPassword("alice", "mail", "x")
	if err := h.Database().Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	a := h.Item(*rec)
	b := h.Item(*rec)
	if a != b {
		t.Error("expected the same item for the same record")
	}

	c, err := h.ItemByID(rec.Type, rec.UniqueID)
	if err != nil {
		t.Fatalf("ItemByID: %v", err)
	}
	if c != a {
		t.Error("expected ItemByID to return the live item")
	}
}

func TestHandleItemKeepsLocalEdits(t *testing.T) {
	h := testHandle(t)
	rec := genericPassword("alice", "mail", "x")
	h.Database().Insert(rec)

	it := h.Item(*rec)
	it.SetAttr(AttrLabel, []byte("edited"))

	again := h.Item(*rec)
	if v, _ := again.Attr(AttrLabel); string(v) != "edited" {
		t.Errorf("expected local edit to be visible, got %q", v)
	}
}

func TestAddItemBindsAndUpdates(t *testing.T) {
	h := testHandle(t)
	it := NewItem(RecordGenericPassword)
	it.SetAttr(AttrAccount, []byte("bob"))
	it.SetData([]byte("one"))

	if err := it.Update(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected unbound update to fail, got %v", err)
	}
	if err := h.AddItem(it); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if it.Keychain() != h {
		t.Error("expected item to be bound to the handle")
	}
	if err := h.AddItem(it); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict re-adding an item, got %v", err)
	}

	it.SetData([]byte("two"))
	if err := it.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, err := h.Database().Fetch(RecordGenericPassword, it.UniqueID())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(rec.Data) != "two" {
		t.Errorf("expected updated data, got %q", rec.Data)
	}

	if err := it.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.ItemByID(RecordGenericPassword, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistentRefRequiresBinding(t *testing.T) {
	it := NewItem(RecordCertificate)
	if _, err := it.PersistentRef(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
