package keychain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Item is an in-memory record bound (or about to be bound) to a keychain.
// Attribute changes are local until Update is called.
type Item struct {
	mu       sync.Mutex
	keychain *Handle
	rec      Record
}

// NewItem returns an item of type t that belongs to no keychain yet.
func NewItem(t RecordType) *Item {
	return &Item{rec: Record{Type: t, Attrs: make(map[Attr][]byte)}}
}

// Keychain returns the owning handle, or nil for an unsaved item.
func (it *Item) Keychain() *Handle {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.keychain
}

func (it *Item) Type() RecordType { return it.rec.Type }

func (it *Item) UniqueID() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.rec.UniqueID
}

// Attr returns a copy of an attribute value.
func (it *Item) Attr(tag Attr) ([]byte, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	v, ok := it.rec.Attrs[tag]
	return bytes.Clone(v), ok
}

func (it *Item) SetAttr(tag Attr, value []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.rec.Attrs == nil {
		it.rec.Attrs = make(map[Attr][]byte)
	}
	it.rec.Attrs[tag] = bytes.Clone(value)
}

func (it *Item) Data() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()
	return bytes.Clone(it.rec.Data)
}

func (it *Item) SetData(data []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.rec.Data = bytes.Clone(data)
}

// Record returns a snapshot of the item's current contents.
func (it *Item) Record() Record {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.rec.Clone()
}

// Update writes local changes back to the owning keychain.
func (it *Item) Update() error {
	it.mu.Lock()
	kc, rec := it.keychain, it.rec.Clone()
	it.mu.Unlock()
	if kc == nil {
		return fmt.Errorf("%w: item is not stored in a keychain", ErrInvalidArgument)
	}
	return kc.db.Update(rec)
}

// Delete removes the record from its keychain.
func (it *Item) Delete() error {
	it.mu.Lock()
	kc, t, uid := it.keychain, it.rec.Type, it.rec.UniqueID
	it.mu.Unlock()
	if kc == nil {
		return fmt.Errorf("%w: item is not stored in a keychain", ErrInvalidArgument)
	}
	return kc.db.DeleteRecord(t, uid)
}

type persistentRef struct {
	Keychain ID         `json:"kc"`
	Type     RecordType `json:"type"`
	UniqueID string     `json:"uid"`
}

// PersistentRef returns bytes that identify this item across processes.
func (it *Item) PersistentRef() ([]byte, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.keychain == nil || it.rec.UniqueID == "" {
		return nil, fmt.Errorf("%w: item has no persistent identity", ErrInvalidArgument)
	}
	return json.Marshal(persistentRef{
		Keychain: it.keychain.ID(),
		Type:     it.rec.Type,
		UniqueID: it.rec.UniqueID,
	})
}

// ParsePersistentRef decodes a reference produced by PersistentRef.
func ParsePersistentRef(ref []byte) (ID, RecordType, string, error) {
	var pr persistentRef
	if err := json.Unmarshal(ref, &pr); err != nil {
		return ID{}, 0, "", fmt.Errorf("%w: malformed item reference: %v", ErrInvalidArgument, err)
	}
	if pr.Keychain.IsZero() || pr.UniqueID == "" {
		return ID{}, 0, "", fmt.Errorf("%w: incomplete item reference", ErrInvalidArgument)
	}
	return pr.Keychain.Normalize(), pr.Type, pr.UniqueID, nil
}
