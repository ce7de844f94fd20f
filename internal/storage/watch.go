package storage

import (
	"context"
	"fmt"
	"slices"

	"github.com/benaskins/keyring/internal/event"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
)

type snapshot struct {
	list []keychain.ID
	def  keychain.ID
}

func (m *Manager) snapshot(st searchlist.Store) snapshot {
	return snapshot{list: st.SearchList(), def: st.Default()}
}

// WatchPreferences posts notifications for list and default changes
// written by other processes. It blocks until ctx is cancelled.
func (m *Manager) WatchPreferences(ctx context.Context) error {
	if m.prefsDir == "" {
		return fmt.Errorf("%w: no preferences directory to watch", keychain.ErrInvalidArgument)
	}

	for _, s := range []searchlist.Scope{m.Scope(), searchlist.Common} {
		if err := m.stores[s].Revert(false); err != nil {
			return err
		}
	}

	w := searchlist.NewWatcher(m.prefsDir)
	return w.Run(ctx, m.reloadScopes)
}

// reloadScopes re-reads the changed scopes that feed the merged list and
// announces what differs.
func (m *Manager) reloadScopes(scopes []searchlist.Scope) {
	listChanged := false
	var newDefault *keychain.ID

	m.listMu.Lock()
	current := m.Scope()
	for _, s := range scopes {
		if s != current && s != searchlist.Common {
			continue
		}
		st := m.stores[s]
		before := m.snapshot(st)
		if err := st.Revert(true); err != nil {
			m.logger.Warn("reloading search list", "scope", s, "error", err)
			continue
		}
		after := m.snapshot(st)
		if !slices.Equal(before.list, after.list) {
			listChanged = true
		}
		if s == current && before.def != after.def {
			d := after.def
			newDefault = &d
		}
	}
	m.listMu.Unlock()

	if listChanged {
		m.post(event.ListChanged, keychain.ID{})
	}
	if newDefault != nil {
		m.post(event.DefaultChanged, *newDefault)
	}
}
