package storage

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/benaskins/keyring/internal/keychain"
)

const probeConcurrency = 8

// Status is the observed state of one keychain.
type Status struct {
	Keychain *keychain.Handle
	Exists   bool
	Locked   bool
	Err      error
}

// Probe checks existence and lock state of handles concurrently. A failing
// keychain is reported in its Status, not as an error; the returned error
// is only ever ctx's.
func (m *Manager) Probe(ctx context.Context, handles []*keychain.Handle) ([]Status, error) {
	statuses := make([]Status, len(handles))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	for i, h := range handles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st := Status{Keychain: h}
			st.Exists, st.Err = h.Exists()
			if st.Exists {
				st.Locked = h.IsLocked()
			}
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}
