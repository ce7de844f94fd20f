package keychain

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

// Handle is the shared in-process representative of one keychain. Any number
// of callers may hold the same *Handle; whether the Registry still maps its
// ID to it is tracked separately by InCache, so evicting a handle never
// invalidates references held elsewhere.
type Handle struct {
	db      Database
	inCache atomic.Bool

	itemsMu sync.Mutex
	items   map[itemKey]weak.Pointer[Item]
}

type itemKey struct {
	t   RecordType
	uid string
}

// NewHandle wraps db in a handle that is not registered in any cache.
func NewHandle(db Database) *Handle {
	return &Handle{
		db:    db,
		items: make(map[itemKey]weak.Pointer[Item]),
	}
}

func (h *Handle) ID() ID { return h.db.ID() }
func (h *Handle) Database() Database { return h.db }
func (h *Handle) String() string { return h.db.ID().String() }

// InCache reports whether the registry currently maps this handle's ID to it.
func (h *Handle) InCache() bool { return h.inCache.Load() }

func (h *Handle) Exists() (bool, error) { return h.db.Exists() }
func (h *Handle) IsLocked() bool { return h.db.IsLocked() }
func (h *Handle) Unlock(secret []byte) error { return h.db.Unlock(secret) }
func (h *Handle) Lock() error { return h.db.Lock() }
func (h *Handle) Create(secret []byte) error { return h.db.Create(secret) }
func (h *Handle) SetSettings(s Settings) error { return h.db.SetSettings(s) }
func (h *Handle) Search(q Query) (RecordCursor, error) { return h.db.Search(q) }

func (h *Handle) ChangePassphrase(oldSecret, newSecret []byte) error {
	return h.db.ChangePassphrase(oldSecret, newSecret)
}

// Rename renames the underlying database and returns the new identifier.
// Callers that keep the handle in a Registry must rebind it afterwards.
func (h *Handle) Rename(newName string) (ID, error) {
	return h.db.Rename(newName)
}

// Delete removes the underlying database. Items already handed out keep
// their last known contents but can no longer be updated.
func (h *Handle) Delete() error {
	if err := h.db.Delete(); err != nil {
		return err
	}
	h.itemsMu.Lock()
	clear(h.items)
	h.itemsMu.Unlock()
	return nil
}

// Item returns the canonical in-memory item for rec. If an item for the same
// record is still referenced somewhere in the process, that item is returned
// unchanged; otherwise a new one is built from rec.
func (h *Handle) Item(rec Record) *Item {
	key := itemKey{t: rec.Type, uid: rec.UniqueID}

	h.itemsMu.Lock()
	defer h.itemsMu.Unlock()

	if wp, ok := h.items[key]; ok {
		if it := wp.Value(); it != nil {
			return it
		}
	}
	it := &Item{keychain: h, rec: rec.Clone()}
	h.remember(key, it)
	return it
}

// ItemByID returns the canonical item for a stored record, fetching it from
// the database when no live representative exists.
func (h *Handle) ItemByID(t RecordType, uniqueID string) (*Item, error) {
	key := itemKey{t: t, uid: uniqueID}
	h.itemsMu.Lock()
	if wp, ok := h.items[key]; ok {
		if it := wp.Value(); it != nil {
			h.itemsMu.Unlock()
			return it, nil
		}
	}
	h.itemsMu.Unlock()

	rec, err := h.db.Fetch(t, uniqueID)
	if err != nil {
		return nil, err
	}
	return h.Item(rec), nil
}

// AddItem stores a new item in this keychain and binds it to the handle.
func (h *Handle) AddItem(it *Item) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.keychain != nil {
		return fmt.Errorf("%w: item already belongs to %s", ErrConflict, it.keychain)
	}
	rec := it.rec.Clone()
	if err := h.db.Insert(&rec); err != nil {
		return err
	}
	it.rec.UniqueID = rec.UniqueID
	it.keychain = h

	h.itemsMu.Lock()
	h.remember(itemKey{t: rec.Type, uid: rec.UniqueID}, it)
	h.itemsMu.Unlock()
	return nil
}

// remember registers it as canonical for key; caller holds itemsMu.
func (h *Handle) remember(key itemKey, it *Item) {
	wp := weak.Make(it)
	h.items[key] = wp
	runtime.AddCleanup(it, func(k itemKey) {
		h.itemsMu.Lock()
		defer h.itemsMu.Unlock()
		if cur, ok := h.items[k]; ok && cur.Value() == nil {
			delete(h.items, k)
		}
	}, key)
}
