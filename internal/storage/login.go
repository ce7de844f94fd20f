package storage

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/benaskins/keyring/internal/event"
	"github.com/benaskins/keyring/internal/keychain"
)

// LoginHints describes the situation to a Prompter asked for a new login
// keychain passphrase.
type LoginHints struct {
	// Account is the account attribute of the item being saved, if any.
	Account string
	// DefaultKeychain is the recorded default's name, if there is one.
	DefaultKeychain string
	// DefaultUnavailable is set when a default is recorded but missing.
	DefaultUnavailable bool
	UserName           string
	// HasOtherKeychains warns that a reset will hide other keychains.
	HasOtherKeychains bool
	// SuppressResetPanel is set for a user-initiated reset with no item.
	SuppressResetPanel bool
}

// Prompter asks the user for the passphrase of a new login keychain.
type Prompter interface {
	PromptLoginSecret(hints LoginHints) ([]byte, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(LoginHints) ([]byte, error)

func (f PrompterFunc) PromptLoginSecret(h LoginHints) ([]byte, error) { return f(h) }

const (
	maxHintAccount = 255
	renamedSuffix  = "_renamed"
)

// UserName returns the account name used for legacy keychain migration.
func (m *Manager) UserName() (string, error) {
	if m.userName != "" {
		return m.userName, nil
	}
	return currentUserName()
}

func currentUserName() (string, error) {
	if name := os.Getenv("USER"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("looking up current user: %w", err)
	}
	if u.Username == "" {
		return "", errors.New("current user has no name")
	}
	return u.Username, nil
}

// Login unlocks the login keychain with secret. If the login keychain does
// not exist, a legacy keychain named after the user is moved into its place
// or, failing that, a new login keychain is created with secret. An
// existing legacy keychain is then added to the search list and unlocked
// with the same secret.
func (m *Manager) Login(name string, secret []byte) error {
	if name == "" {
		var err error
		if name, err = m.UserName(); err != nil {
			return err
		}
	}

	saved := m.saved()
	m.listMu.Lock()
	err := saved.Revert(true)
	loginID := saved.Login()
	m.listMu.Unlock()
	if err != nil {
		return err
	}
	if loginID.IsZero() {
		return fmt.Errorf("%w: no login keychain recorded", keychain.ErrNotFound)
	}

	legacyID := keychain.PathID(filepath.Join(m.KeychainDir(), name))
	legacy := m.registry.HandleFor(legacyID)
	legacyExists, _ := legacy.Exists()

	login := m.registry.HandleFor(loginID)
	m.logger.Debug("unlocking login keychain", "keychain", loginID)
	err = login.Unlock(secret)
	switch {
	case err == nil:
	case !errors.Is(err, keychain.ErrDoesNotExist):
		return fmt.Errorf("unlocking login keychain: %w", err)
	case legacyExists:
		if err := m.adoptLegacy(legacy, loginID, secret); err != nil {
			return err
		}
	default:
		m.logger.Info("creating login keychain", "keychain", loginID)
		if err := m.Create(login, secret); err != nil {
			return fmt.Errorf("creating login keychain: %w", err)
		}
		if err := m.SetLoginKeychain(login); err != nil {
			return err
		}
		if err := login.SetSettings(keychain.NeverLock); err != nil {
			return fmt.Errorf("configuring login keychain: %w", err)
		}
	}

	// A legacy keychain that survived (the login keychain already existed)
	// joins the search list and is unlocked with the login secret.
	legacy = m.registry.HandleFor(legacyID)
	if ok, _ := legacy.Exists(); ok {
		if _, err := m.MakeKeychain(legacyID, true); err != nil {
			return err
		}
	}
	if err := legacy.Unlock(secret); err != nil && !errors.Is(err, keychain.ErrDoesNotExist) {
		return fmt.Errorf("unlocking %s: %w", legacyID, err)
	}
	return nil
}

// adoptLegacy moves the legacy keychain to the login keychain's path and
// fixes up the current list.
func (m *Manager) adoptLegacy(legacy *keychain.Handle, loginID keychain.ID, secret []byte) error {
	legacyID := legacy.ID()
	m.logger.Info("migrating legacy keychain", "from", legacyID, "to", loginID)

	m.listMu.Lock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		m.listMu.Unlock()
		return err
	}
	newID, err := legacy.Rename(loginID.Name)
	if err != nil {
		m.listMu.Unlock()
		return fmt.Errorf("renaming legacy keychain: %w", err)
	}
	m.registry.Rebind(legacyID, newID, legacy)

	changed := false
	if saved.Member(legacyID) {
		if len(saved.SearchList()) == 1 {
			saved.Remove(legacyID)
		} else {
			saved.Rename(legacyID, newID)
		}
		changed = true
	}
	err = saved.Save()
	m.listMu.Unlock()

	if err != nil {
		return fmt.Errorf("saving search list: %w", err)
	}
	if changed {
		m.post(event.ListChanged, keychain.ID{})
	}
	if err := legacy.Unlock(secret); err != nil {
		return fmt.Errorf("unlocking migrated login keychain: %w", err)
	}
	return nil
}

// ChangeLoginPassphrase changes the login keychain's passphrase.
func (m *Manager) ChangeLoginPassphrase(oldSecret, newSecret []byte) error {
	login, err := m.LoginKeychain()
	if err != nil {
		return err
	}
	if err := login.ChangePassphrase(oldSecret, newSecret); err != nil {
		return fmt.Errorf("changing login passphrase: %w", err)
	}
	m.logger.Debug("changed login keychain passphrase", "keychain", login)
	return nil
}

// ResetKeychain optionally clears the current search list and moves the
// login keychain aside as <name>_renamedN.keychain. A missing login
// keychain or a failed rename is logged and otherwise ignored.
func (m *Manager) ResetKeychain(resetSearchList bool) {
	if resetSearchList {
		if err := m.SetSearchList(nil); err != nil {
			m.logger.Warn("clearing search list", "error", err)
		}
	}
	login, err := m.LoginKeychain()
	if err != nil {
		m.logger.Debug("no login keychain to move aside", "error", err)
		return
	}
	base := strings.TrimSuffix(login.ID().Name, keychain.Suffix) + renamedSuffix
	if err := m.RenameUnique(login, base); err != nil {
		m.logger.Warn("moving login keychain aside", "keychain", login, "error", err)
	}
}

// DefaultKeychainUI returns the default keychain if it exists, and
// otherwise creates a login keychain interactively. hint is the item about
// to be stored, or nil.
func (m *Manager) DefaultKeychainUI(hint *keychain.Item) (*keychain.Handle, error) {
	if h, err := m.DefaultKeychain(); err == nil {
		if ok, err := h.Exists(); err == nil && ok {
			return h, nil
		}
	}
	if !m.interactionAllowed {
		return nil, keychain.ErrInteractionNotAllowed
	}
	return m.CreateLoginInteractively(hint)
}

// CreateLoginInteractively asks the Prompter for a passphrase, moves any
// existing login keychain aside, creates a fresh one and makes it the
// default. Every failure is reported as ErrBootstrapFailed.
func (m *Manager) CreateLoginInteractively(hint *keychain.Item) (*keychain.Handle, error) {
	if m.prompter == nil || !m.interactionAllowed {
		return nil, keychain.ErrInteractionNotAllowed
	}
	h, err := m.createLoginInteractively(hint)
	if err != nil {
		m.logger.Warn("interactive login keychain creation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
	}
	return h, nil
}

func (m *Manager) createLoginInteractively(hint *keychain.Item) (*keychain.Handle, error) {
	hints, err := m.loginHints(hint)
	if err != nil {
		return nil, err
	}
	secret, err := m.prompter.PromptLoginSecret(hints)
	if err != nil {
		return nil, err
	}

	m.ResetKeychain(true)

	if err := m.ensureLoginRecorded(); err != nil {
		return nil, err
	}
	if err := m.Login(hints.UserName, secret); err != nil {
		return nil, err
	}
	login, err := m.LoginKeychain()
	if err != nil {
		return nil, err
	}
	if err := m.SetDefaultKeychain(login); err != nil {
		return nil, err
	}
	return login, nil
}

func (m *Manager) loginHints(hint *keychain.Item) (LoginHints, error) {
	var hints LoginHints
	if hint != nil {
		if acct, ok := hint.Attr(keychain.AttrAccount); ok {
			if len(acct) > maxHintAccount {
				acct = acct[:maxHintAccount]
			}
			hints.Account = string(acct)
		}
	}
	if def, err := m.DefaultKeychain(); err == nil {
		hints.DefaultKeychain = def.ID().Name
		if ok, err := def.Exists(); err != nil || !ok {
			hints.DefaultUnavailable = true
		}
	}

	name, err := m.UserName()
	if err != nil {
		return LoginHints{}, err
	}
	hints.UserName = name

	if hint != nil {
		saved := m.saved()
		if err := saved.Revert(false); err == nil && len(saved.SearchList()) > 1 {
			hints.HasOtherKeychains = true
		}
	}
	hints.SuppressResetPanel = hint == nil
	return hints, nil
}

// ensureLoginRecorded points the login marker at the canonical login
// keychain path when none is recorded.
func (m *Manager) ensureLoginRecorded() error {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	saved := m.saved()
	if err := saved.Revert(true); err != nil {
		return err
	}
	if !saved.Login().IsZero() {
		return nil
	}
	dir := m.KeychainDir()
	if dir == "" {
		return fmt.Errorf("%w: no keychain directory for %s scope", keychain.ErrNotFound, m.Scope())
	}
	saved.SetLogin(keychain.PathID(filepath.Join(dir, LoginKeychainName)))
	return saved.Save()
}
