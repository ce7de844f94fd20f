package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// KeychainMetadata tracks lifecycle info for a keychain.
type KeychainMetadata struct {
	CreatedAt    time.Time `json:"created_at"`
	LastUnlocked time.Time `json:"last_unlocked,omitzero"`
	RenamedFrom  string    `json:"renamed_from,omitempty"`
}

// MetadataStore persists keychain metadata to a JSON file, keyed by the
// keychain identifier string.
type MetadataStore struct {
	mu       sync.RWMutex
	path     string
	metadata map[string]*KeychainMetadata
}

// NewMetadataStore loads or creates a metadata file.
func NewMetadataStore(path string) (*MetadataStore, error) {
	ms := &MetadataStore{
		path:     path,
		metadata: make(map[string]*KeychainMetadata),
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &ms.metadata); jsonErr != nil {
			slog.Warn("corrupt metadata file, starting fresh", "path", path, "error", jsonErr)
		}
	}
	// A missing file starts fresh.

	return ms, nil
}

// Get returns a copy of the metadata for a keychain, or nil if not tracked.
func (ms *MetadataStore) Get(key string) *KeychainMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.metadata[key]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Update applies fn to the metadata for key, creating it if needed, and
// persists the result.
func (ms *MetadataStore) Update(key string, fn func(*KeychainMetadata)) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.metadata[key]
	if !ok {
		m = &KeychainMetadata{CreatedAt: time.Now().UTC()}
		ms.metadata[key] = m
	}
	fn(m)
	return ms.save()
}

// Move re-keys metadata after a rename and records where it came from.
func (ms *MetadataStore) Move(from, to string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.metadata[from]
	if !ok {
		m = &KeychainMetadata{CreatedAt: time.Now().UTC()}
	}
	delete(ms.metadata, from)
	m.RenamedFrom = from
	ms.metadata[to] = m
	return ms.save()
}

// Delete removes metadata for a keychain.
func (ms *MetadataStore) Delete(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.metadata, key)
	return ms.save()
}

// All returns copies of all metadata entries.
func (ms *MetadataStore) All() map[string]*KeychainMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make(map[string]*KeychainMetadata, len(ms.metadata))
	for k, v := range ms.metadata {
		cp := *v
		result[k] = &cp
	}
	return result
}

func (ms *MetadataStore) save() error {
	data, err := json.MarshalIndent(ms.metadata, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(ms.path), 0700); err != nil {
		return err
	}
	tmpPath := ms.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, ms.path)
}
