package storage

import (
	"fmt"
	"slices"

	"github.com/benaskins/keyring/internal/event"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
)

func (m *Manager) domainStore(s searchlist.Scope, write bool) (searchlist.Store, error) {
	if s == searchlist.Dynamic && write {
		return nil, fmt.Errorf("%w: %s list is read-only", ErrInvalidScope, s)
	}
	st := m.stores[s]
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScope, s)
	}
	return st, nil
}

// DomainSearchList returns one scope's list without merging.
func (m *Manager) DomainSearchList(s searchlist.Scope) ([]*keychain.Handle, error) {
	st, err := m.domainStore(s, false)
	if err != nil {
		return nil, err
	}
	if err := st.Revert(false); err != nil {
		return nil, err
	}
	return m.registry.HandlesFor(st.SearchList()), nil
}

// SetDomainSearchList replaces one scope's list. Only changes to the
// current scope are announced.
func (m *Manager) SetDomainSearchList(s searchlist.Scope, handles []*keychain.Handle) error {
	st, err := m.domainStore(s, true)
	if err != nil {
		return err
	}
	ids := idsOf(handles)

	m.listMu.Lock()
	if err := st.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	old := st.SearchList()
	st.SetSearchList(ids)
	changed := !slices.Equal(old, st.SearchList())
	err = st.Save()
	m.listMu.Unlock()

	if err != nil {
		return fmt.Errorf("saving %s search list: %w", s, err)
	}
	if changed && s == m.Scope() {
		m.post(event.ListChanged, keychain.ID{})
	}
	return nil
}

// DomainDefault returns one scope's default keychain.
func (m *Manager) DomainDefault(s searchlist.Scope) (*keychain.Handle, error) {
	if s == searchlist.Dynamic {
		return nil, fmt.Errorf("%w: %s has no default", ErrInvalidScope, s)
	}
	if s == m.Scope() {
		return m.DefaultKeychain()
	}
	st, err := m.domainStore(s, false)
	if err != nil {
		return nil, err
	}
	if err := st.Revert(false); err != nil {
		return nil, err
	}
	id := st.Default()
	if id.IsZero() {
		return nil, fmt.Errorf("%w: no default keychain in %s scope", keychain.ErrNotFound, s)
	}
	return m.registry.HandleFor(id), nil
}

// SetDomainDefault sets one scope's default keychain.
func (m *Manager) SetDomainDefault(s searchlist.Scope, h *keychain.Handle) error {
	if s == searchlist.Dynamic {
		return fmt.Errorf("%w: %s has no default", ErrInvalidScope, s)
	}
	if s == m.Scope() {
		return m.SetDefaultKeychain(h)
	}
	st, err := m.domainStore(s, true)
	if err != nil {
		return err
	}
	var id keychain.ID
	if h != nil {
		id = h.ID()
	}
	m.listMu.Lock()
	defer m.listMu.Unlock()
	if err := st.Revert(true); err != nil {
		return err
	}
	st.SetDefault(id)
	return st.Save()
}

// AddToDomainList appends id to a scope's list.
func (m *Manager) AddToDomainList(s searchlist.Scope, id keychain.ID) error {
	return m.editDomainList(s, func(st searchlist.Store) { st.Add(id) })
}

// RemoveFromDomainList removes id from a scope's list.
func (m *Manager) RemoveFromDomainList(s searchlist.Scope, id keychain.ID) error {
	return m.editDomainList(s, func(st searchlist.Store) { st.Remove(id) })
}

func (m *Manager) editDomainList(s searchlist.Scope, edit func(searchlist.Store)) error {
	if s == searchlist.Dynamic {
		return fmt.Errorf("%w: %s list is read-only", ErrInvalidScope, s)
	}
	st, err := m.domainStore(s, true)
	if err != nil {
		return err
	}

	m.listMu.Lock()
	if err := st.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	old := st.SearchList()
	edit(st)
	changed := !slices.Equal(old, st.SearchList())
	err = st.Save()
	m.listMu.Unlock()

	if err != nil {
		return fmt.Errorf("saving %s search list: %w", s, err)
	}
	if changed && s == m.Scope() {
		m.post(event.ListChanged, keychain.ID{})
	}
	return nil
}

// IsInDomainList fails with ErrNotFound unless id is on the scope's list.
func (m *Manager) IsInDomainList(s searchlist.Scope, id keychain.ID) error {
	if s == searchlist.Dynamic {
		return fmt.Errorf("%w: %s", ErrInvalidScope, s)
	}
	st, err := m.domainStore(s, false)
	if err != nil {
		return err
	}
	if err := st.Revert(false); err != nil {
		return err
	}
	if !st.Member(id) {
		return fmt.Errorf("%w: %s is not in the %s list", keychain.ErrNotFound, id, s)
	}
	return nil
}
