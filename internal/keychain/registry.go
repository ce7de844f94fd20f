package keychain

import (
	"log/slog"
	"sync"

	"github.com/benaskins/keyring/internal/metrics"
)

// Registry caches one Handle per keychain ID for the lifetime of a process.
// It is constructed once and shared by the storage manager and its callers.
type Registry struct {
	mu      sync.Mutex
	engine  Engine
	handles map[ID]*Handle
	logger  *slog.Logger
}

// NewRegistry creates an empty registry that opens databases with engine.
func NewRegistry(engine Engine) *Registry {
	return &Registry{
		engine:  engine,
		handles: make(map[ID]*Handle),
		logger:  slog.With("component", "registry"),
	}
}

// HandleFor returns the cached handle for id, creating and caching one if
// needed. A zero id yields nil.
func (r *Registry) HandleFor(id ID) *Handle {
	if id.IsZero() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handleForLocked(id)
}

// HandlesFor resolves ids in order under a single lock acquisition.
func (r *Registry) HandlesFor(ids []ID) []*Handle {
	result := make([]*Handle, 0, len(ids))
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		result = append(result, r.handleForLocked(id))
	}
	return result
}

func (r *Registry) handleForLocked(id ID) *Handle {
	if h, ok := r.handles[id]; ok {
		metrics.RegistryLookups.WithLabelValues("hit").Inc()
		return h
	}
	metrics.RegistryLookups.WithLabelValues("miss").Inc()

	h := NewHandle(r.engine.Open(id))
	r.handles[id] = h
	h.inCache.Store(true)
	r.logger.Debug("opened keychain", "keychain", id)
	return h
}

// Lookup returns the cached handle for id without creating one.
func (r *Registry) Lookup(id ID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Evict drops the mapping for id if and only if it still points at h.
func (r *Registry) Evict(id ID, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !h.InCache() {
		return
	}
	if cur, ok := r.handles[id]; ok && cur == h {
		delete(r.handles, id)
		h.inCache.Store(false)
		r.logger.Debug("evicted keychain", "keychain", id)
	}
}

// Rebind moves h from oldID to newID after a rename. Whatever was cached
// under newID is dropped from the cache but left usable by its holders. A
// handle that was not cached stays uncached.
func (r *Registry) Rebind(oldID, newID ID, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasCached := h.InCache()
	if cur, ok := r.handles[oldID]; ok && cur == h {
		delete(r.handles, oldID)
	}
	if prev, ok := r.handles[newID]; ok && prev != h {
		prev.inCache.Store(false)
		delete(r.handles, newID)
		r.logger.Debug("displaced keychain by rename", "keychain", newID)
	}
	if wasCached {
		r.handles[newID] = h
	}
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ItemFromPersistentRef resolves a reference produced by Item.PersistentRef.
func (r *Registry) ItemFromPersistentRef(ref []byte) (*Item, error) {
	id, t, uid, err := ParsePersistentRef(ref)
	if err != nil {
		return nil, err
	}
	return r.HandleFor(id).ItemByID(t, uid)
}
