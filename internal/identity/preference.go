package identity

import (
	"fmt"

	"github.com/benaskins/keyring/internal/keychain"
)

// FindPreferenceItem returns the first preference record for name in
// handles, or in the search list when handles is nil. An empty name
// matches any preference.
func (r *Resolver) FindPreferenceItem(handles []*keychain.Handle, name string) (*keychain.Item, error) {
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name is %d bytes", keychain.ErrInvalidArgument, len(name))
	}
	handles, err := r.store.OptionalSearchList(handles)
	if err != nil {
		return nil, err
	}
	return findPreference(handles, name, 0)
}

// AddPreferenceItem stores a new preference for name in h, or in the
// default keychain when h is nil or missing. For a URL name a second
// preference is written for its top-level path so that sibling paths
// resolve to the same identity; failing to write that one is not an error.
func (r *Resolver) AddPreferenceItem(h *keychain.Handle, id *Identity, name string) (*keychain.Item, error) {
	paths := PossiblePaths(name)
	if id == nil || len(paths) == 0 {
		return nil, fmt.Errorf("%w: identity and name are required", keychain.ErrInvalidArgument)
	}
	item, err := r.addPreferenceWithName(h, id, paths[0])
	if err != nil {
		return nil, err
	}
	if len(paths) > 1 {
		top := paths[len(paths)-1]
		if _, err := r.addPreferenceWithName(h, id, top); err != nil {
			r.logger.Debug("adding top-level identity preference", "service", top, "error", err)
		}
	}
	return item, nil
}

func (r *Resolver) addPreferenceWithName(h *keychain.Handle, id *Identity, name string) (*keychain.Item, error) {
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name is %d bytes", keychain.ErrInvalidArgument, len(name))
	}
	item := keychain.NewItem(keychain.RecordGenericPassword)
	if err := fillPreference(item, id, name, 0); err != nil {
		return nil, err
	}
	kc, err := r.targetKeychain(h, item)
	if err != nil {
		return nil, err
	}
	if err := kc.AddItem(item); err != nil {
		return nil, fmt.Errorf("adding identity preference to %s: %w", kc, err)
	}
	return item, nil
}

// UpdatePreferenceItem points an existing preference record at id.
func (r *Resolver) UpdatePreferenceItem(item *keychain.Item, id *Identity) error {
	if item == nil || id == nil {
		return fmt.Errorf("%w: item and identity are required", keychain.ErrInvalidArgument)
	}
	label, err := id.Certificate().Label()
	if err != nil {
		return err
	}
	ref, err := id.Certificate().PersistentRef()
	if err != nil {
		return err
	}
	item.SetAttr(keychain.AttrAccount, []byte(label))
	item.SetAttr(keychain.AttrGeneric, ref)
	return item.Update()
}

// IdentityFromPreferenceItem resolves the identity a preference record
// names. The private key is looked up on the search list.
func (r *Resolver) IdentityFromPreferenceItem(item *keychain.Item) (*Identity, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: item is required", keychain.ErrInvalidArgument)
	}
	cert, err := r.certificateFor(item)
	if err != nil {
		return nil, err
	}
	handles, err := r.store.SearchList()
	if err != nil {
		return nil, err
	}
	return New(cert, handles), nil
}
