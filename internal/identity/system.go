package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/benaskins/keyring/internal/cursor"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/storage"
)

const (
	// DomainDefault is consulted when a domain has no identity of its own.
	DomainDefault = "com.keyring.systemdefault"
	// DomainKerberosKDC names the identity of the local Kerberos KDC.
	DomainKerberosKDC = "com.keyring.kerberos.kdc"
)

// SystemIdentities maps domains to certificates in the system keychain.
// The map is persisted as JSON, domain to public key hash.
type SystemIdentities struct {
	mu             sync.Mutex
	path           string
	systemKeychain string
	store          Storage
	privileged     func() bool
	logger         *slog.Logger
}

// NewSystemIdentities returns system identities persisted at path whose
// certificates are looked up in the keychain at systemKeychain.
func NewSystemIdentities(path, systemKeychain string, store Storage) *SystemIdentities {
	return &SystemIdentities{
		path:           path,
		systemKeychain: systemKeychain,
		store:          store,
		privileged:     storage.Privileged,
		logger:         slog.With("component", "system-identity"),
	}
}

func (s *SystemIdentities) load() (map[string][]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	entries := make(map[string][]byte)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *SystemIdentities) save(entries map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Identity returns the identity for domain, falling back to DomainDefault.
// The second result is the domain actually used.
func (s *SystemIdentities) Identity(domain string) (*Identity, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, "", fmt.Errorf("%w: system identities: %v", keychain.ErrUnavailable, err)
	}
	hash, ok := entries[domain]
	if !ok {
		if domain != DomainDefault {
			hash, ok = entries[DomainDefault]
		}
		if !ok {
			return nil, "", fmt.Errorf("%w: no system identity for %q", keychain.ErrNotFound, domain)
		}
		domain = DomainDefault
	}

	kc, err := s.store.Make(s.systemKeychain, false)
	if err != nil {
		return nil, "", err
	}
	handles := []*keychain.Handle{kc}
	c := cursor.New(handles, keychain.RecordCertificate)
	defer c.Close()
	if err := c.Add(keychain.Predicate{Attr: keychain.AttrPublicKeyHash, Op: keychain.OpEqual, Value: hash}); err != nil {
		return nil, "", err
	}
	it, found, err := c.Next()
	if err != nil {
		return nil, "", err
	}
	if !found {
		return nil, "", fmt.Errorf("%w: system identity certificate for %q", keychain.ErrNotFound, domain)
	}
	cert, err := NewItemCertificate(it)
	if err != nil {
		return nil, "", err
	}
	return New(cert, handles), domain, nil
}

// SetIdentity records id for domain; a nil id removes the entry. Only a
// privileged process may change system identities.
func (s *SystemIdentities) SetIdentity(domain string, id *Identity) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", keychain.ErrInvalidArgument)
	}
	if !s.privileged() {
		return fmt.Errorf("%w: system identities can only be changed by root", keychain.ErrAuthFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if id == nil {
			return nil
		}
		entries = make(map[string][]byte)
	case err != nil:
		return err
	}

	if id == nil {
		delete(entries, domain)
	} else {
		hash, err := id.Certificate().PublicKeyHash()
		if err != nil {
			return err
		}
		entries[domain] = hash
	}
	if err := s.save(entries); err != nil {
		return fmt.Errorf("saving system identities: %w", err)
	}
	s.logger.Info("system identity updated", "domain", domain, "removed", id == nil)
	return nil
}
