// Package storage implements the storage manager: it merges the per-scope
// keychain lists into one ordered search list, tracks the default and login
// keychains, and bootstraps the login keychain.
//
// Lock discipline: listMu serialises read-modify-write cycles on the
// search list stores. The registry has its own lock. Neither is held while
// notifications are posted, and keychain deletion runs with no lock held.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/benaskins/keyring/internal/cursor"
	"github.com/benaskins/keyring/internal/event"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
)

var (
	// ErrInvalidScope is returned for operations a scope does not support,
	// such as writing the Dynamic list.
	ErrInvalidScope = fmt.Errorf("%w: invalid preferences scope", keychain.ErrInvalidArgument)

	// ErrBootstrapFailed is returned when interactive login keychain
	// creation fails for any reason.
	ErrBootstrapFailed = errors.New("login keychain bootstrap failed")
)

// LoginKeychainName is the file name of the canonical login keychain.
const LoginKeychainName = "login" + keychain.Suffix

// Config wires a Manager to its collaborators.
type Config struct {
	Registry *keychain.Registry

	// Stores holds one list store per scope. User, System and Common are
	// required; a missing Dynamic store means an empty Dynamic list.
	Stores map[searchlist.Scope]searchlist.Store

	// KeychainDirs maps User and System to the directory relative keychain
	// names resolve under.
	KeychainDirs map[searchlist.Scope]string

	// PreferencesDir is watched by WatchPreferences.
	PreferencesDir string

	// Scope is the initial current scope. Nil picks System for root and
	// User otherwise.
	Scope *searchlist.Scope

	Notifier           event.Notifier
	Prompter           Prompter
	InteractionAllowed bool

	// UserName is the account whose legacy short-name keychain is migrated
	// by Login. Empty means the current user.
	UserName string
}

// Manager is the storage manager. It is safe for concurrent use.
type Manager struct {
	registry *keychain.Registry
	stores   map[searchlist.Scope]searchlist.Store
	dirs     map[searchlist.Scope]string
	prefsDir string

	notifier           event.Notifier
	prompter           Prompter
	interactionAllowed bool
	userName           string

	scope  atomic.Int32
	listMu sync.Mutex
	logger *slog.Logger
}

// New validates cfg and returns a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: storage manager needs a registry", keychain.ErrInvalidArgument)
	}
	for _, s := range []searchlist.Scope{searchlist.User, searchlist.System, searchlist.Common} {
		if cfg.Stores[s] == nil {
			return nil, fmt.Errorf("%w: no store for %s scope", keychain.ErrInvalidArgument, s)
		}
	}
	stores := make(map[searchlist.Scope]searchlist.Store, len(cfg.Stores)+1)
	for s, st := range cfg.Stores {
		stores[s] = st
	}
	if stores[searchlist.Dynamic] == nil {
		stores[searchlist.Dynamic] = searchlist.NewMemoryStore(searchlist.Dynamic)
	}

	m := &Manager{
		registry:           cfg.Registry,
		stores:             stores,
		dirs:               cfg.KeychainDirs,
		prefsDir:           cfg.PreferencesDir,
		notifier:           cfg.Notifier,
		prompter:           cfg.Prompter,
		interactionAllowed: cfg.InteractionAllowed,
		userName:           cfg.UserName,
		logger:             slog.With("component", "storage"),
	}
	if m.notifier == nil {
		m.notifier = event.Discard
	}

	scope := DefaultScope()
	if cfg.Scope != nil {
		scope = *cfg.Scope
	}
	if err := m.SetScope(scope); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultScope is System when running as root and User otherwise.
func DefaultScope() searchlist.Scope {
	if privileged() {
		return searchlist.System
	}
	return searchlist.User
}

// Registry returns the handle cache the manager resolves through.
func (m *Manager) Registry() *keychain.Registry { return m.registry }

// Scope returns the current scope.
func (m *Manager) Scope() searchlist.Scope { return searchlist.Scope(m.scope.Load()) }

// SetScope switches the current persisted scope.
func (m *Manager) SetScope(s searchlist.Scope) error {
	if s == searchlist.Dynamic || m.stores[s] == nil {
		return fmt.Errorf("%w: %s", ErrInvalidScope, s)
	}
	if old := m.Scope(); old != s {
		m.logger.Debug("switching scope", "from", old, "to", s)
	}
	m.scope.Store(int32(s))
	return nil
}

func (m *Manager) saved() searchlist.Store { return m.stores[m.Scope()] }
func (m *Manager) common() searchlist.Store { return m.stores[searchlist.Common] }
func (m *Manager) dynamic() searchlist.Store { return m.stores[searchlist.Dynamic] }

func (m *Manager) post(kind event.Kind, id keychain.ID) {
	m.notifier.Post(event.New(kind, id))
}

// KeychainDir returns the directory relative names resolve under for the
// current scope.
func (m *Manager) KeychainDir() string {
	return m.dirs[m.Scope()]
}

func (m *Manager) resolvePath(name string) string {
	name = keychain.ExpandTilde(name)
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.KeychainDir(), name)
}

// Keychain returns the handle for id.
func (m *Manager) Keychain(id keychain.ID) *keychain.Handle {
	return m.registry.HandleFor(id)
}

// SearchList returns the merged search list: Dynamic, then the current
// scope, then Common.
func (m *Manager) SearchList() ([]*keychain.Handle, error) {
	saved, common := m.saved(), m.common()
	if err := saved.Revert(false); err != nil {
		return nil, err
	}
	if err := common.Revert(false); err != nil {
		return nil, err
	}

	ids := m.dynamic().SearchList()
	ids = append(ids, saved.SearchList()...)
	ids = append(ids, common.SearchList()...)
	return m.registry.HandlesFor(ids), nil
}

// SetSearchList stores handles as the current scope's list. A trailing run
// matching the Common list is not stored.
func (m *Manager) SetSearchList(handles []*keychain.Handle) error {
	if err := m.common().Revert(false); err != nil {
		return err
	}
	commonIDs := m.common().SearchList()
	ids := idsOf(handles)

	end := len(ids)
	for i := len(commonIDs) - 1; i >= 0 && end > 0; i-- {
		if ids[end-1] != commonIDs[i] {
			break
		}
		end--
	}
	ids = ids[:end]

	m.listMu.Lock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	old := saved.SearchList()
	saved.SetSearchList(ids)
	changed := !slices.Equal(old, saved.SearchList())
	err := saved.Save()
	m.listMu.Unlock()

	if err != nil {
		return fmt.Errorf("saving search list: %w", err)
	}
	if changed {
		m.post(event.ListChanged, keychain.ID{})
	}
	return nil
}

// OptionalSearchList returns handles, or the merged search list when
// handles is nil.
func (m *Manager) OptionalSearchList(handles []*keychain.Handle) ([]*keychain.Handle, error) {
	if handles != nil {
		return handles, nil
	}
	return m.SearchList()
}

// DefaultKeychain returns the current scope's default keychain.
func (m *Manager) DefaultKeychain() (*keychain.Handle, error) {
	saved := m.saved()
	if err := saved.Revert(false); err != nil {
		return nil, err
	}
	id := saved.Default()
	if id.IsZero() {
		return nil, fmt.Errorf("%w: no default keychain", keychain.ErrNotFound)
	}
	h := m.registry.HandleFor(id)
	if h == nil {
		return nil, fmt.Errorf("%w: no default keychain", keychain.ErrNotFound)
	}
	return h, nil
}

// SetDefaultKeychain records h as the current scope's default.
func (m *Manager) SetDefaultKeychain(h *keychain.Handle) error {
	var newID keychain.ID
	if h != nil {
		newID = h.ID()
	}

	m.listMu.Lock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	oldID := saved.Default()
	saved.SetDefault(newID)
	err := saved.Save()
	m.listMu.Unlock()

	if err != nil {
		return fmt.Errorf("saving default keychain: %w", err)
	}
	if oldID != newID {
		m.post(event.DefaultChanged, newID)
	}
	return nil
}

// LoginKeychain returns the login keychain if one is recorded and exists.
func (m *Manager) LoginKeychain() (*keychain.Handle, error) {
	saved := m.saved()
	if err := saved.Revert(false); err != nil {
		return nil, err
	}
	id := saved.Login()
	if id.IsZero() {
		return nil, fmt.Errorf("%w: no login keychain", keychain.ErrNotFound)
	}
	h := m.registry.HandleFor(id)
	if ok, err := h.Exists(); err != nil || !ok {
		return nil, fmt.Errorf("%w: login keychain %s does not exist", keychain.ErrNotFound, id)
	}
	return h, nil
}

// SetLoginKeychain records h as the current scope's login keychain.
func (m *Manager) SetLoginKeychain(h *keychain.Handle) error {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		return err
	}
	saved.SetLogin(h.ID())
	return saved.Save()
}

// Len returns the number of keychains in the current scope and Common.
func (m *Manager) Len() (int, error) {
	saved, common := m.saved(), m.common()
	if err := saved.Revert(false); err != nil {
		return 0, err
	}
	if err := common.Revert(false); err != nil {
		return 0, err
	}
	return len(saved.SearchList()) + len(common.SearchList()), nil
}

// At indexes the current scope's list followed by Common.
func (m *Manager) At(i int) (*keychain.Handle, error) {
	saved := m.saved()
	if err := saved.Revert(false); err != nil {
		return nil, err
	}
	ids := saved.SearchList()
	if i >= 0 && i < len(ids) {
		return m.registry.HandleFor(ids[i]), nil
	}
	common := m.common()
	if err := common.Revert(false); err != nil {
		return nil, err
	}
	commonIDs := common.SearchList()
	j := i - len(ids)
	if i < 0 || j >= len(commonIDs) {
		return nil, fmt.Errorf("%w: keychain index %d out of range", keychain.ErrInvalidArgument, i)
	}
	return m.registry.HandleFor(commonIDs[j]), nil
}

// Make resolves a keychain by path. Relative paths resolve under the
// current scope's keychain directory.
func (m *Manager) Make(path string, add bool) (*keychain.Handle, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty keychain path", keychain.ErrInvalidArgument)
	}
	return m.MakeKeychain(keychain.PathID(m.resolvePath(path)), add)
}

// MakeKeychain returns the handle for id. With add set, an existing
// keychain that is on neither the current scope's list nor Common is
// appended to the current list. Keychains that do not exist yet are added
// when they are created.
func (m *Manager) MakeKeychain(id keychain.ID, add bool) (*keychain.Handle, error) {
	h := m.registry.HandleFor(id)
	if h == nil {
		return nil, fmt.Errorf("%w: empty keychain identifier", keychain.ErrInvalidArgument)
	}
	if !add {
		return h, nil
	}

	saved, common := m.saved(), m.common()
	if err := saved.Revert(false); err != nil {
		return nil, err
	}
	if saved.Member(id) {
		return h, nil
	}
	if err := common.Revert(false); err != nil {
		return nil, err
	}
	if common.Member(id) {
		return h, nil
	}
	if ok, err := h.Exists(); err != nil || !ok {
		return h, nil
	}

	m.listMu.Lock()
	if err := saved.Revert(true); err != nil {
		m.listMu.Unlock()
		return nil, err
	}
	saved.Add(id)
	err := saved.Save()
	m.listMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("saving search list: %w", err)
	}

	m.post(event.ListChanged, keychain.ID{})
	return h, nil
}

// Create physically creates h's keychain and registers it with Created.
func (m *Manager) Create(h *keychain.Handle, secret []byte) error {
	if err := h.Create(secret); err != nil {
		return err
	}
	return m.Created(h)
}

// Created records a newly created keychain: it joins the current list and
// becomes the default if there is none.
func (m *Manager) Created(h *keychain.Handle) error {
	id := h.ID()
	defaultChanged := false

	m.listMu.Lock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	if saved.Default().IsZero() {
		saved.SetDefault(id)
		defaultChanged = true
	}
	saved.Add(id)
	err := saved.Save()
	m.listMu.Unlock()

	if err != nil {
		return fmt.Errorf("saving search list: %w", err)
	}
	m.post(event.ListChanged, keychain.ID{})
	if defaultChanged {
		m.post(event.DefaultChanged, id)
	}
	return nil
}

// Rename renames h's keychain, keeping its position in the current list
// and its default status.
func (m *Manager) Rename(h *keychain.Handle, newName string) error {
	if newName == "" {
		return fmt.Errorf("%w: empty keychain name", keychain.ErrInvalidArgument)
	}
	newPath := m.resolvePath(newName)

	m.listMu.Lock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	oldID := h.ID()
	changedDefault := saved.Default() == oldID

	newID, err := h.Rename(newPath)
	if err != nil {
		m.listMu.Unlock()
		return fmt.Errorf("renaming %s: %w", oldID, err)
	}
	saved.Rename(oldID, newID)
	saveErr := saved.Save()
	m.registry.Rebind(oldID, newID, h)
	m.listMu.Unlock()

	m.logger.Debug("renamed keychain", "from", oldID, "to", newID)
	m.post(event.ListChanged, keychain.ID{})
	if changedDefault {
		m.post(event.DefaultChanged, newID)
	}
	if saveErr != nil {
		return fmt.Errorf("saving search list: %w", saveErr)
	}
	return nil
}

// RenameUnique renames h to the first free base+N+".keychain", counting N
// up from 1. A relative base resolves under the current keychain directory.
func (m *Manager) RenameUnique(h *keychain.Handle, base string) error {
	base = m.resolvePath(base)
	for n := 1; n < maxUniqueIndex; n++ {
		candidate := fmt.Sprintf("%s%d%s", base, n, keychain.Suffix)
		if m.nameTaken(candidate) {
			continue
		}
		return m.Rename(h, candidate)
	}
	panic(fmt.Sprintf("storage: no free keychain name for %q", base))
}

const maxUniqueIndex = 1<<31 - 1

// nameTaken reports whether a keychain already occupies path, on disk or in
// a cached handle's engine.
func (m *Manager) nameTaken(path string) bool {
	if _, err := os.Lstat(path); err == nil {
		return true
	}
	if h, ok := m.registry.Lookup(keychain.PathID(path)); ok {
		exists, err := h.Exists()
		return err == nil && exists
	}
	return false
}

// Remove takes handles off the current list. With deleteData the
// keychains are also evicted and deleted; deletion happens after the list
// is saved and with no lock held. The first deletion error is returned.
func (m *Manager) Remove(handles []*keychain.Handle, deleteData bool) error {
	unsetDefault := false

	m.listMu.Lock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	defaultID := saved.Default()
	for _, h := range handles {
		id := h.ID()
		saved.Remove(id)
		if id == defaultID {
			unsetDefault = true
		}
		if deleteData {
			m.registry.Evict(id, h)
		}
	}
	if unsetDefault {
		saved.SetDefault(keychain.ID{})
	}
	saveErr := saved.Save()
	m.listMu.Unlock()

	if saveErr != nil {
		return fmt.Errorf("saving search list: %w", saveErr)
	}

	var deleteErr error
	if deleteData {
		for _, h := range handles {
			if err := h.Delete(); err != nil {
				m.logger.Warn("deleting keychain", "keychain", h, "error", err)
				if deleteErr == nil {
					deleteErr = fmt.Errorf("deleting %s: %w", h, err)
				}
			}
		}
	}

	m.post(event.ListChanged, keychain.ID{})
	if unsetDefault {
		m.post(event.DefaultChanged, keychain.ID{})
	}
	return deleteErr
}

// CreateCursor searches the merged search list for records of kind.
func (m *Manager) CreateCursor(kind keychain.RecordType, attrs []keychain.Attribute) (*cursor.Cursor, error) {
	handles, err := m.SearchList()
	if err != nil {
		return nil, err
	}
	c := cursor.New(handles, kind)
	for _, a := range attrs {
		if a.Tag == keychain.AttrClass {
			return nil, fmt.Errorf("%w: class attribute with an explicit kind", keychain.ErrInvalidArgument)
		}
		if err := c.Add(keychain.Predicate{Attr: a.Tag, Op: keychain.OpEqual, Value: a.Value}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CreateAnyCursor searches the merged search list; a class attribute in
// attrs selects the kind.
func (m *Manager) CreateAnyCursor(attrs []keychain.Attribute) (*cursor.Cursor, error) {
	handles, err := m.SearchList()
	if err != nil {
		return nil, err
	}
	return cursor.NewFromAttributes(handles, attrs)
}

func idsOf(handles []*keychain.Handle) []keychain.ID {
	ids := make([]keychain.ID, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			ids = append(ids, h.ID())
		}
	}
	return ids
}
