package audit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benaskins/keyring/internal/keychain"
)

// Engine wraps a keychain engine and adds audit logging and metadata
// tracking to every database it opens.
type Engine struct {
	inner    keychain.Engine
	audit    *Logger
	metadata *MetadataStore
	actor    string // "cli" or "watch"
	logger   *slog.Logger
}

// NewEngine wraps an existing engine with audit logging.
func NewEngine(inner keychain.Engine, auditLog *Logger, metadata *MetadataStore, actor string) *Engine {
	return &Engine{
		inner:    inner,
		audit:    auditLog,
		metadata: metadata,
		actor:    actor,
		logger:   slog.With("component", "audit"),
	}
}

func (e *Engine) Open(id keychain.ID) keychain.Database {
	return &auditedDatabase{Database: e.inner.Open(id), engine: e}
}

// Metadata returns the metadata store for direct access.
func (e *Engine) Metadata() *MetadataStore {
	return e.metadata
}

// log is best-effort: a failure to log should not block the operation.
func (e *Engine) log(entry Entry) {
	entry.Actor = e.actor
	if err := e.audit.Log(entry); err != nil {
		e.logger.Warn("audit write failed", "action", entry.Action, "error", err)
	}
}

func (e *Engine) updateMetadata(key string, fn func(*KeychainMetadata)) {
	if err := e.metadata.Update(key, fn); err != nil {
		e.logger.Warn("saving keychain metadata", "keychain", key, "error", err)
	}
}

type auditedDatabase struct {
	keychain.Database
	engine *Engine
}

func recordRef(t keychain.RecordType, uid string) string {
	return t.String() + "/" + uid
}

func (d *auditedDatabase) Create(secret []byte) error {
	if err := d.Database.Create(secret); err != nil {
		return fmt.Errorf("audited create: %w", err)
	}
	key := d.ID().String()
	d.engine.log(Entry{Action: ActionKeychainCreate, Keychain: key})
	d.engine.updateMetadata(key, func(m *KeychainMetadata) {
		m.CreatedAt = time.Now().UTC()
	})
	return nil
}

func (d *auditedDatabase) Unlock(secret []byte) error {
	key := d.ID().String()
	if err := d.Database.Unlock(secret); err != nil {
		d.engine.log(Entry{Action: ActionUnlockFailed, Keychain: key, Error: err.Error()})
		return err
	}
	d.engine.updateMetadata(key, func(m *KeychainMetadata) {
		m.LastUnlocked = time.Now().UTC()
	})
	return nil
}

func (d *auditedDatabase) Delete() error {
	key := d.ID().String()
	if err := d.Database.Delete(); err != nil {
		d.engine.log(Entry{Action: ActionKeychainDelete, Keychain: key, Error: err.Error()})
		return err
	}
	d.engine.log(Entry{Action: ActionKeychainDelete, Keychain: key})
	if err := d.engine.metadata.Delete(key); err != nil {
		d.engine.logger.Warn("deleting keychain metadata", "keychain", key, "error", err)
	}
	return nil
}

func (d *auditedDatabase) Rename(newName string) (keychain.ID, error) {
	oldKey := d.ID().String()
	newID, err := d.Database.Rename(newName)
	if err != nil {
		return keychain.ID{}, err
	}
	d.engine.log(Entry{Action: ActionKeychainRename, Keychain: oldKey, NewName: newID.String()})
	if err := d.engine.metadata.Move(oldKey, newID.String()); err != nil {
		d.engine.logger.Warn("moving keychain metadata", "keychain", oldKey, "error", err)
	}
	return newID, nil
}

func (d *auditedDatabase) ChangePassphrase(oldSecret, newSecret []byte) error {
	key := d.ID().String()
	if err := d.Database.ChangePassphrase(oldSecret, newSecret); err != nil {
		d.engine.log(Entry{Action: ActionKeychainPassphrase, Keychain: key, Error: err.Error()})
		return err
	}
	d.engine.log(Entry{Action: ActionKeychainPassphrase, Keychain: key})
	return nil
}

func (d *auditedDatabase) Insert(rec *keychain.Record) error {
	if err := d.Database.Insert(rec); err != nil {
		return err
	}
	d.engine.log(Entry{Action: ActionRecordWrite, Keychain: d.ID().String(), Record: recordRef(rec.Type, rec.UniqueID)})
	return nil
}

func (d *auditedDatabase) Update(rec keychain.Record) error {
	if err := d.Database.Update(rec); err != nil {
		return err
	}
	d.engine.log(Entry{Action: ActionRecordWrite, Keychain: d.ID().String(), Record: recordRef(rec.Type, rec.UniqueID)})
	return nil
}

func (d *auditedDatabase) DeleteRecord(t keychain.RecordType, uid string) error {
	if err := d.Database.DeleteRecord(t, uid); err != nil {
		return err
	}
	d.engine.log(Entry{Action: ActionRecordDelete, Keychain: d.ID().String(), Record: recordRef(t, uid)})
	return nil
}
