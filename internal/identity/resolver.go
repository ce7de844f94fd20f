package identity

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/benaskins/keyring/internal/cursor"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/metrics"
)

// PreferenceType is the type attribute that marks a generic password as an
// identity preference.
const PreferenceType = "iprf"

// Storage is the part of the storage manager the resolver needs.
type Storage interface {
	Registry() *keychain.Registry
	SearchList() ([]*keychain.Handle, error)
	OptionalSearchList(handles []*keychain.Handle) ([]*keychain.Handle, error)
	DefaultKeychain() (*keychain.Handle, error)
	DefaultKeychainUI(hint *keychain.Item) (*keychain.Handle, error)
	Make(path string, add bool) (*keychain.Handle, error)
}

// Resolver reads and writes identity preferences on the search list.
type Resolver struct {
	store      Storage
	logLookups bool
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookupLogging logs every candidate tried by Preference.
func WithLookupLogging(enabled bool) Option {
	return func(r *Resolver) { r.logLookups = enabled }
}

func NewResolver(store Storage, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.With("component", "identity"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Preference returns the identity preferred for name. URL names fall back
// to their parent paths. A zero keyUsage matches any usage.
//
// validIssuers is reserved for restricting the result to certificates
// issued by one of the given distinguished names; it is not applied yet.
func (r *Resolver) Preference(name string, keyUsage uint32, validIssuers [][]byte) (*Identity, error) {
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name is %d bytes", keychain.ErrInvalidArgument, len(name))
	}
	candidates := PossiblePaths(name)
	for _, candidate := range candidates {
		id, err := r.preferenceMatchingName(candidate, keyUsage, validIssuers)
		if r.logLookups {
			r.logLookup(name, candidate, id)
		}
		if err == nil {
			metrics.PreferenceLookups.WithLabelValues("found").Inc()
			return id, nil
		}
		r.logger.Debug("no identity preference", "service", candidate, "error", err)
	}
	metrics.PreferenceLookups.WithLabelValues("not_found").Inc()
	return nil, fmt.Errorf("%w: no identity preference for %q", keychain.ErrNotFound, name)
}

func (r *Resolver) preferenceMatchingName(name string, keyUsage uint32, _ [][]byte) (*Identity, error) {
	handles, err := r.store.SearchList()
	if err != nil {
		return nil, err
	}
	pref, err := findPreference(handles, name, keyUsage)
	if err != nil {
		return nil, err
	}
	cert, err := r.certificateFor(pref)
	if err != nil {
		return nil, err
	}
	return New(cert, handles), nil
}

func (r *Resolver) logLookup(name, candidate string, id *Identity) {
	label := ""
	if id != nil {
		label, _ = id.Certificate().Label()
	}
	r.logger.Info("preferred identity", "label", label, "service", candidate)
	if id != nil {
		r.logger.Info("identity lookup complete", "label", label, "name", name)
	}
}

// SetPreference records id as the preferred identity for exactly name,
// updating an existing preference or adding one to the default keychain.
func (r *Resolver) SetPreference(id *Identity, name string, keyUsage uint32) error {
	if id == nil || name == "" {
		return fmt.Errorf("%w: identity and name are required", keychain.ErrInvalidArgument)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: name is %d bytes", keychain.ErrInvalidArgument, len(name))
	}
	handles, err := r.store.SearchList()
	if err != nil {
		return err
	}

	item, err := findPreference(handles, name, keyUsage)
	add := errors.Is(err, keychain.ErrNotFound)
	switch {
	case add:
		item = keychain.NewItem(keychain.RecordGenericPassword)
	case err != nil:
		return err
	}

	if err := fillPreference(item, id, name, keyUsage); err != nil {
		return err
	}
	if !add {
		return item.Update()
	}

	kc, err := r.targetKeychain(nil, item)
	if err != nil {
		return err
	}
	if err := kc.AddItem(item); err != nil {
		return fmt.Errorf("adding identity preference to %s: %w", kc, err)
	}
	r.logger.Debug("added identity preference", "service", name, "keychain", kc)
	return nil
}

// targetKeychain returns h if it exists, and otherwise the default
// keychain, bootstrapping one interactively if need be.
func (r *Resolver) targetKeychain(h *keychain.Handle, hint *keychain.Item) (*keychain.Handle, error) {
	if h == nil {
		if def, err := r.store.DefaultKeychain(); err == nil {
			h = def
		}
	}
	if h != nil {
		if ok, err := h.Exists(); err == nil && ok {
			return h, nil
		}
	}
	return r.store.DefaultKeychainUI(hint)
}

// certificateFor follows a preference record's stored reference to the
// certificate it names.
func (r *Resolver) certificateFor(pref *keychain.Item) (*ItemCertificate, error) {
	ref, ok := pref.Attr(keychain.AttrGeneric)
	if !ok || len(ref) == 0 {
		return nil, fmt.Errorf("%w: preference has no certificate reference", ErrInvalidItemRef)
	}
	it, err := r.store.Registry().ItemFromPersistentRef(ref)
	if err != nil {
		return nil, fmt.Errorf("resolving certificate reference: %w", err)
	}
	return NewItemCertificate(it)
}

func preferenceCursor(handles []*keychain.Handle, name string, keyUsage uint32) (*cursor.Cursor, error) {
	c := cursor.New(handles, keychain.RecordGenericPassword)
	preds := []keychain.Predicate{
		{Attr: keychain.AttrType, Op: keychain.OpEqual, Value: keychain.FourCCValue(PreferenceType)},
	}
	if name != "" {
		preds = append(preds, keychain.Predicate{Attr: keychain.AttrService, Op: keychain.OpEqual, Value: []byte(name)})
	}
	if keyUsage != 0 {
		preds = append(preds, keychain.Predicate{Attr: keychain.AttrScriptCode, Op: keychain.OpEqual, Value: keychain.Uint32Value(keyUsage)})
	}
	for _, p := range preds {
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func findPreference(handles []*keychain.Handle, name string, keyUsage uint32) (*keychain.Item, error) {
	c, err := preferenceCursor(handles, name, keyUsage)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	it, ok, err := c.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no identity preference for %q", keychain.ErrNotFound, name)
	}
	return it, nil
}

// fillPreference writes the preference attributes for id into item.
func fillPreference(item *keychain.Item, id *Identity, name string, keyUsage uint32) error {
	label, err := id.Certificate().Label()
	if err != nil {
		return err
	}
	ref, err := id.Certificate().PersistentRef()
	if err != nil {
		return err
	}
	item.SetAttr(keychain.AttrService, []byte(name))
	item.SetAttr(keychain.AttrLabel, []byte(name))
	item.SetAttr(keychain.AttrType, keychain.FourCCValue(PreferenceType))
	item.SetAttr(keychain.AttrAccount, []byte(label))
	if keyUsage != 0 {
		item.SetAttr(keychain.AttrScriptCode, keychain.Uint32Value(keyUsage))
	}
	item.SetAttr(keychain.AttrGeneric, ref)
	return nil
}
