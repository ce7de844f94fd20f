// Package identity resolves certificate identities through preference
// records: generic passwords that map a service name to a stored
// certificate.
package identity

import (
	"fmt"

	"github.com/benaskins/keyring/internal/cursor"
	"github.com/benaskins/keyring/internal/keychain"
)

// ErrInvalidItemRef is returned when a certificate has no usable persistent
// reference or a preference record points at something that is not a
// certificate.
var ErrInvalidItemRef = fmt.Errorf("%w: invalid item reference", keychain.ErrInvalidArgument)

// maxNameLen bounds service names and certificate labels written to
// preference records.
const maxNameLen = 1023

// Certificate is the part of a certificate identity resolution needs.
type Certificate interface {
	// Label is the human-readable name stored as the preference account.
	Label() (string, error)
	PersistentRef() ([]byte, error)
	PublicKeyHash() ([]byte, error)
}

// ItemCertificate is a certificate stored as a keychain record.
type ItemCertificate struct {
	item *keychain.Item
}

// NewItemCertificate wraps a certificate record.
func NewItemCertificate(it *keychain.Item) (*ItemCertificate, error) {
	if it == nil || it.Type() != keychain.RecordCertificate {
		return nil, fmt.Errorf("%w: not a certificate", ErrInvalidItemRef)
	}
	return &ItemCertificate{item: it}, nil
}

func (c *ItemCertificate) Item() *keychain.Item { return c.item }

func (c *ItemCertificate) Label() (string, error) {
	label, ok := c.item.Attr(keychain.AttrLabel)
	if !ok || len(label) == 0 {
		return "", fmt.Errorf("%w: certificate has no label", keychain.ErrInvalidArgument)
	}
	if len(label) > maxNameLen {
		return "", fmt.Errorf("%w: certificate label is %d bytes", keychain.ErrInvalidArgument, len(label))
	}
	return string(label), nil
}

func (c *ItemCertificate) PersistentRef() ([]byte, error) {
	ref, err := c.item.PersistentRef()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItemRef, err)
	}
	return ref, nil
}

func (c *ItemCertificate) PublicKeyHash() ([]byte, error) {
	hash, ok := c.item.Attr(keychain.AttrPublicKeyHash)
	if !ok || len(hash) == 0 {
		return nil, fmt.Errorf("%w: certificate has no public key hash", keychain.ErrNotFound)
	}
	return hash, nil
}

// Identity pairs a certificate with the keychains its private key is
// looked up in.
type Identity struct {
	cert      Certificate
	keychains []*keychain.Handle
}

// New returns an identity for cert whose private key lives in one of
// keychains.
func New(cert Certificate, keychains []*keychain.Handle) *Identity {
	return &Identity{cert: cert, keychains: keychains}
}

func (id *Identity) Certificate() Certificate { return id.cert }
func (id *Identity) Keychains() []*keychain.Handle { return id.keychains }

// PrivateKey finds the private key record whose public key hash matches
// the certificate's.
func (id *Identity) PrivateKey() (*keychain.Item, error) {
	hash, err := id.cert.PublicKeyHash()
	if err != nil {
		return nil, err
	}
	c := cursor.New(id.keychains, keychain.RecordPrivateKey)
	defer c.Close()
	if err := c.Add(keychain.Predicate{Attr: keychain.AttrPublicKeyHash, Op: keychain.OpEqual, Value: hash}); err != nil {
		return nil, err
	}
	it, ok, err := c.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no private key for certificate", keychain.ErrNotFound)
	}
	return it, nil
}
