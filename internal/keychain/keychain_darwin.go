//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

// DefaultPlatformService is the service attribute used when a platform
// keychain ID carries no name.
const DefaultPlatformService = "com.keyring"

// PlatformEngine exposes generic passwords in the macOS login keychain as a
// database. The ID name is used as the service attribute, so each platform
// ID is a separate namespace inside the system keychain.
type PlatformEngine struct{}

// NewPlatformEngine returns the macOS Keychain engine.
func NewPlatformEngine() Engine {
	return PlatformEngine{}
}

func (PlatformEngine) Open(id ID) Database {
	service := id.Name
	if service == "" {
		service = DefaultPlatformService
	}
	return &platformDatabase{id: id, service: service}
}

type platformDatabase struct {
	id      ID
	service string
}

func (d *platformDatabase) ID() ID { return d.id }
func (d *platformDatabase) Exists() (bool, error) { return true, nil }
func (d *platformDatabase) IsLocked() bool { return false }
func (d *platformDatabase) Unlock([]byte) error { return nil }
func (d *platformDatabase) Lock() error { return nil }
func (d *platformDatabase) SetSettings(Settings) error { return nil }

func (d *platformDatabase) Create([]byte) error {
	return fmt.Errorf("%w: platform keychain %s always exists", ErrConflict, d.id)
}

func (d *platformDatabase) Rename(string) (ID, error) {
	return ID{}, fmt.Errorf("%w: platform keychains cannot be renamed", ErrInvalidArgument)
}

func (d *platformDatabase) ChangePassphrase(_, _ []byte) error {
	return fmt.Errorf("%w: platform keychain passphrase is managed by the system", ErrInvalidArgument)
}

// Delete removes every generic password stored under the service.
func (d *platformDatabase) Delete() error {
	accounts, err := gokeychain.GetGenericPasswordAccounts(d.service)
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("keychain list %q: %w", d.service, err)
	}
	for _, acct := range accounts {
		if err := d.DeleteRecord(RecordGenericPassword, acct); err != nil {
			return err
		}
	}
	return nil
}

func (d *platformDatabase) Search(q Query) (RecordCursor, error) {
	if q.RecordType != RecordAny && q.RecordType != RecordGenericPassword {
		return &sliceCursor{}, nil
	}

	query := gokeychain.NewItem()
	query.SetSecClass(gokeychain.SecClassGenericPassword)
	query.SetService(d.service)
	if acct, ok := q.Equal(AttrAccount); ok && q.Conjunction == And {
		query.SetAccount(string(acct))
	}
	query.SetMatchLimit(gokeychain.MatchLimitAll)
	query.SetReturnAttributes(true)

	results, err := gokeychain.QueryItem(query)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return &sliceCursor{}, nil
		}
		return nil, fmt.Errorf("keychain query %q: %w", d.service, err)
	}

	var matched []Record
	for _, r := range results {
		rec := Record{
			Type:     RecordGenericPassword,
			UniqueID: r.Account,
			Attrs: map[Attr][]byte{
				AttrAccount: []byte(r.Account),
				AttrService: []byte(r.Service),
			},
		}
		if r.Label != "" {
			rec.Attrs[AttrLabel] = []byte(r.Label)
		}
		if r.Description != "" {
			rec.Attrs[AttrDescription] = []byte(r.Description)
		}
		if r.Comment != "" {
			rec.Attrs[AttrComment] = []byte(r.Comment)
		}
		if !r.CreationDate.IsZero() {
			rec.Attrs[AttrCreationDate] = TimeValue(r.CreationDate)
		}
		if !r.ModificationDate.IsZero() {
			rec.Attrs[AttrModDate] = TimeValue(r.ModificationDate)
		}
		if q.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	return &platformCursor{db: d, sliceCursor: sliceCursor{records: matched}}, nil
}

// platformCursor loads each password lazily; attribute queries cannot
// return data in bulk.
type platformCursor struct {
	db *platformDatabase
	sliceCursor
}

func (c *platformCursor) Next() (Record, bool, error) {
	rec, ok, err := c.sliceCursor.Next()
	if !ok || err != nil {
		return rec, ok, err
	}
	data, err := gokeychain.GetGenericPassword(c.db.service, rec.UniqueID, "", "")
	if err != nil {
		return Record{}, false, fmt.Errorf("keychain get %q: %w", rec.UniqueID, err)
	}
	rec.Data = data
	return rec, true, nil
}

func (d *platformDatabase) Fetch(t RecordType, account string) (Record, error) {
	if t != RecordGenericPassword {
		return Record{}, fmt.Errorf("%w: %s record %s", ErrNotFound, t, account)
	}
	data, err := gokeychain.GetGenericPassword(d.service, account, "", "")
	if err != nil {
		return Record{}, fmt.Errorf("keychain get %q: %w", account, err)
	}
	if data == nil {
		return Record{}, fmt.Errorf("%w: %s record %s", ErrNotFound, t, account)
	}
	return Record{
		Type:     RecordGenericPassword,
		UniqueID: account,
		Attrs: map[Attr][]byte{
			AttrAccount: []byte(account),
			AttrService: []byte(d.service),
		},
		Data: data,
	}, nil
}

// Insert stores a generic password. The account attribute becomes the
// record's unique ID.
func (d *platformDatabase) Insert(rec *Record) error {
	if rec.Type != RecordGenericPassword {
		return fmt.Errorf("%w: platform keychain stores generic passwords only", ErrInvalidArgument)
	}
	account := string(rec.Attrs[AttrAccount])
	if account == "" {
		return fmt.Errorf("%w: generic password needs an account attribute", ErrInvalidArgument)
	}
	label := string(rec.Attrs[AttrLabel])
	if label == "" {
		label = fmt.Sprintf("keyring: %s", account)
	}

	item := gokeychain.NewGenericPassword(d.service, account, label, rec.Data, "")
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)
	if desc, ok := rec.Attrs[AttrDescription]; ok {
		item.SetDescription(string(desc))
	}
	if comment, ok := rec.Attrs[AttrComment]; ok {
		item.SetComment(string(comment))
	}

	if err := gokeychain.AddItem(item); err != nil {
		if errors.Is(err, gokeychain.ErrorDuplicateItem) {
			return fmt.Errorf("%w: %s already holds %q", ErrConflict, d.service, account)
		}
		return fmt.Errorf("keychain add %q: %w", account, err)
	}
	rec.UniqueID = account
	return nil
}

// Update replaces the stored password (update = delete + add).
func (d *platformDatabase) Update(rec Record) error {
	if err := d.DeleteRecord(rec.Type, rec.UniqueID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[Attr][]byte)
	}
	rec.Attrs[AttrAccount] = []byte(rec.UniqueID)
	return d.Insert(&rec)
}

func (d *platformDatabase) DeleteRecord(t RecordType, account string) error {
	if t != RecordGenericPassword {
		return fmt.Errorf("%w: %s record %s", ErrNotFound, t, account)
	}
	err := gokeychain.DeleteGenericPasswordItem(d.service, account)
	if errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("%w: %s record %s", ErrNotFound, t, account)
	}
	if err != nil {
		return fmt.Errorf("keychain delete %q: %w", account, err)
	}
	return nil
}
