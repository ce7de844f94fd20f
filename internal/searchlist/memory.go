package searchlist

import (
	"slices"
	"sync"

	"github.com/benaskins/keyring/internal/keychain"
)

// MemoryStore is a Store that is never persisted. It backs the Dynamic
// scope and tests.
type MemoryStore struct {
	mu    sync.Mutex
	scope Scope
	l     list
}

// NewMemoryStore returns a store for scope seeded with ids.
func NewMemoryStore(scope Scope, ids ...keychain.ID) *MemoryStore {
	s := &MemoryStore{scope: scope}
	s.l.contents.SearchList = slices.Clone(ids)
	s.l.contents.normalize()
	return s
}

func (s *MemoryStore) Scope() Scope { return s.scope }

func (s *MemoryStore) Revert(bool) error { return nil }

func (s *MemoryStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.dirty = false
	return nil
}

func (s *MemoryStore) SearchList() []keychain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.searchList()
}

func (s *MemoryStore) SetSearchList(ids []keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.setSearchList(ids)
}

func (s *MemoryStore) Default() keychain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.contents.Default
}

func (s *MemoryStore) SetDefault(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.setDefault(id)
}

func (s *MemoryStore) Login() keychain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.contents.Login
}

func (s *MemoryStore) SetLogin(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.setLogin(id)
}

func (s *MemoryStore) Member(id keychain.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.member(id)
}

func (s *MemoryStore) Add(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.add(id)
}

func (s *MemoryStore) Remove(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.remove(id)
}

func (s *MemoryStore) Rename(oldID, newID keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.rename(oldID, newID)
}
