package searchlist

import (
	"slices"

	"github.com/benaskins/keyring/internal/keychain"
)

// Store is one scope's ordered keychain list with its default and login
// markers. Mutations are local until Save; callers bracket a
// read-modify-write with Revert(true) and Save under their own lock.
type Store interface {
	Scope() Scope

	// Revert reloads the persisted state. With forWrite false an unchanged
	// backing file is not re-read.
	Revert(forWrite bool) error
	Save() error

	SearchList() []keychain.ID
	SetSearchList(ids []keychain.ID)
	Default() keychain.ID
	SetDefault(id keychain.ID)
	Login() keychain.ID
	SetLogin(id keychain.ID)

	Member(id keychain.ID) bool
	Add(id keychain.ID)
	Remove(id keychain.ID)
	// Rename replaces old with new in place and moves the default marker.
	Rename(oldID, newID keychain.ID)
}

// Contents is the persisted form of a list.
type Contents struct {
	SearchList []keychain.ID `json:"search_list"`
	Default    keychain.ID   `json:"default,omitzero"`
	Login      keychain.ID   `json:"login,omitzero"`
}

func (c Contents) clone() Contents {
	c.SearchList = slices.Clone(c.SearchList)
	return c
}

func (c *Contents) normalize() {
	for i, id := range c.SearchList {
		c.SearchList[i] = id.Normalize()
	}
	c.SearchList = dedupe(c.SearchList)
	c.Default = c.Default.Normalize()
	c.Login = c.Login.Normalize()
}

// dedupe keeps the first occurrence of each identifier.
func dedupe(ids []keychain.ID) []keychain.ID {
	seen := make(map[keychain.ID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// list holds the mutable state shared by both store implementations. The
// caller holds the owning store's lock.
type list struct {
	contents Contents
	dirty    bool
}

func (l *list) searchList() []keychain.ID { return slices.Clone(l.contents.SearchList) }

func (l *list) setSearchList(ids []keychain.ID) {
	next := dedupe(slices.Clone(ids))
	if !slices.Equal(next, l.contents.SearchList) {
		l.contents.SearchList = next
		l.dirty = true
	}
}

func (l *list) setDefault(id keychain.ID) {
	if l.contents.Default != id {
		l.contents.Default = id
		l.dirty = true
	}
}

func (l *list) setLogin(id keychain.ID) {
	if l.contents.Login != id {
		l.contents.Login = id
		l.dirty = true
	}
}

func (l *list) member(id keychain.ID) bool {
	return slices.Contains(l.contents.SearchList, id)
}

func (l *list) add(id keychain.ID) {
	if id.IsZero() || l.member(id) {
		return
	}
	l.contents.SearchList = append(l.contents.SearchList, id)
	l.dirty = true
}

func (l *list) remove(id keychain.ID) {
	n := len(l.contents.SearchList)
	l.contents.SearchList = slices.DeleteFunc(l.contents.SearchList, func(x keychain.ID) bool { return x == id })
	if len(l.contents.SearchList) != n {
		l.dirty = true
	}
}

// rename replaces oldID in place and moves the default marker with it. The
// login marker names a fixed location and stays put.
func (l *list) rename(oldID, newID keychain.ID) {
	if i := slices.Index(l.contents.SearchList, oldID); i >= 0 {
		l.contents.SearchList[i] = newID
		l.contents.SearchList = dedupe(l.contents.SearchList)
		l.dirty = true
	}
	if l.contents.Default == oldID {
		l.contents.Default = newID
		l.dirty = true
	}
}
