package sqlitedb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	"github.com/benaskins/keyring/internal/keychain"
)

const defaultCost = bcrypt.DefaultCost

type database struct {
	engine *Engine
	mu     sync.Mutex
	id     keychain.ID
}

func (d *database) ID() keychain.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

func (d *database) path() string { return d.ID().Name }

func (d *database) Exists() (bool, error) {
	return exists(d.path())
}

func (d *database) IsLocked() bool {
	path := d.path()
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	return !d.engine.unlocked[path]
}

// open returns the connection for an existing keychain.
func (d *database) open() (*bun.DB, string, error) {
	path := d.path()
	ok, err := exists(path)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", keychain.ErrDoesNotExist, path)
	}
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	db, err := d.engine.conn(path)
	return db, path, err
}

// openUnlocked is open plus the lock check every record operation needs.
func (d *database) openUnlocked() (*bun.DB, error) {
	db, path, err := d.open()
	if err != nil {
		return nil, err
	}
	d.engine.mu.Lock()
	unlocked := d.engine.unlocked[path]
	d.engine.mu.Unlock()
	if !unlocked {
		return nil, fmt.Errorf("%w: %s", keychain.ErrLocked, path)
	}
	return db, nil
}

func (d *database) meta(ctx context.Context, db bun.IDB) (*metaRow, error) {
	m := new(metaRow)
	if err := db.NewSelect().Model(m).Where("id = ?", metaID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: reading keychain header: %v", keychain.ErrUnavailable, err)
	}
	return m, nil
}

func (d *database) Unlock(secret []byte) error {
	ctx := context.Background()
	db, path, err := d.open()
	if err != nil {
		return err
	}
	m, err := d.meta(ctx, db)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(m.SecretHash, secret); err != nil {
		return fmt.Errorf("%w: %s", keychain.ErrAuthFailed, path)
	}
	d.engine.mu.Lock()
	d.engine.unlocked[path] = true
	d.engine.mu.Unlock()
	return nil
}

func (d *database) Lock() error {
	_, path, err := d.open()
	if err != nil {
		return err
	}
	d.engine.mu.Lock()
	delete(d.engine.unlocked, path)
	d.engine.mu.Unlock()
	return nil
}

func (d *database) Create(secret []byte) error {
	ctx := context.Background()
	path := d.path()
	ok, err := exists(path)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s already exists", keychain.ErrConflict, path)
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword(secret, d.engine.cost)
	if err != nil {
		return fmt.Errorf("hashing passphrase: %w", err)
	}

	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	db, err := d.engine.conn(path)
	if err != nil {
		return err
	}
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := createSchema(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&metaRow{
			ID:         metaID,
			SecretHash: hash,
			CreatedAt:  time.Now().UTC(),
		}).Exec(ctx)
		return err
	})
	if err != nil {
		d.engine.drop(path)
		os.Remove(path)
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		d.engine.logger.Warn("restricting keychain permissions", "path", path, "error", err)
	}
	d.engine.unlocked[path] = true
	return nil
}

func (d *database) Rename(newName string) (keychain.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	oldPath := d.id.Name
	newID := keychain.NewID(d.id.Module, d.id.ServiceType, newName)
	newPath := newID.Name

	if ok, err := exists(oldPath); err != nil {
		return keychain.ID{}, err
	} else if !ok {
		return keychain.ID{}, fmt.Errorf("%w: %s", keychain.ErrDoesNotExist, oldPath)
	}
	if ok, err := exists(newPath); err != nil {
		return keychain.ID{}, err
	} else if ok {
		return keychain.ID{}, fmt.Errorf("%w: %s already exists", keychain.ErrConflict, newPath)
	}
	if err := ensureDir(newPath); err != nil {
		return keychain.ID{}, err
	}

	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	d.engine.drop(oldPath)
	if err := os.Rename(oldPath, newPath); err != nil {
		return keychain.ID{}, fmt.Errorf("renaming keychain: %w", err)
	}
	if d.engine.unlocked[oldPath] {
		d.engine.unlocked[newPath] = true
	}
	delete(d.engine.unlocked, oldPath)

	d.id.Name = newPath
	newID = d.id
	return newID, nil
}

func (d *database) Delete() error {
	path := d.path()
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	d.engine.drop(path)
	delete(d.engine.unlocked, path)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", keychain.ErrDoesNotExist, path)
		}
		return err
	}
	return nil
}

func (d *database) ChangePassphrase(oldSecret, newSecret []byte) error {
	ctx := context.Background()
	db, path, err := d.open()
	if err != nil {
		return err
	}
	m, err := d.meta(ctx, db)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(m.SecretHash, oldSecret); err != nil {
		return fmt.Errorf("%w: %s", keychain.ErrAuthFailed, path)
	}
	hash, err := bcrypt.GenerateFromPassword(newSecret, d.engine.cost)
	if err != nil {
		return fmt.Errorf("hashing passphrase: %w", err)
	}
	m.SecretHash = hash
	_, err = db.NewUpdate().Model(m).Column("secret_hash").WherePK().Exec(ctx)
	return err
}

func (d *database) SetSettings(s keychain.Settings) error {
	ctx := context.Background()
	db, _, err := d.open()
	if err != nil {
		return err
	}
	m := &metaRow{ID: metaID, LockInterval: int64(s.LockInterval), LockOnSleep: s.LockOnSleep}
	_, err = db.NewUpdate().Model(m).Column("lock_interval", "lock_on_sleep").WherePK().Exec(ctx)
	return err
}

// Settings returns the stored auto-lock settings.
func (d *database) Settings() (keychain.Settings, error) {
	db, _, err := d.open()
	if err != nil {
		return keychain.Settings{}, err
	}
	m, err := d.meta(context.Background(), db)
	if err != nil {
		return keychain.Settings{}, err
	}
	return keychain.Settings{LockInterval: time.Duration(m.LockInterval), LockOnSleep: m.LockOnSleep}, nil
}

func (d *database) Search(q keychain.Query) (keychain.RecordCursor, error) {
	ctx := context.Background()
	db, err := d.openUnlocked()
	if err != nil {
		return nil, err
	}
	var rows []recordRow
	sel := db.NewSelect().Model(&rows).Order("seq ASC")
	if q.RecordType != keychain.RecordAny {
		sel = sel.Where("type = ?", uint32(q.RecordType))
	}
	for _, p := range indexedEqualities(q) {
		sel = sel.Where("EXISTS (SELECT 1 FROM attributes AS a WHERE a.uid = ?TableAlias.uid AND a.tag = ? AND a.value = ?)",
			uint32(p.Attr), p.Value)
	}
	if err := sel.Scan(ctx); err != nil {
		return nil, fmt.Errorf("searching %s: %w", d.path(), err)
	}
	recs, err := withAttrs(ctx, db, rows)
	if err != nil {
		return nil, err
	}
	matched := recs[:0]
	for _, rec := range recs {
		if q.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	return &rowCursor{records: matched}, nil
}

// indexedEqualities returns the predicates SQL can narrow on through the
// attributes_tag_value index. Only equalities in an And query qualify; the
// rest are still checked by Query.Matches.
func indexedEqualities(q keychain.Query) []keychain.Predicate {
	if q.Conjunction != keychain.And {
		return nil
	}
	var out []keychain.Predicate
	for _, p := range q.Predicates {
		if p.Op == keychain.OpEqual && len(p.Value) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// withAttrs loads the attributes of rows.
func withAttrs(ctx context.Context, db bun.IDB, rows []recordRow) ([]keychain.Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	uids := make([]string, len(rows))
	recs := make([]keychain.Record, len(rows))
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		uids[i] = r.UID
		index[r.UID] = i
		recs[i] = keychain.Record{
			Type:     keychain.RecordType(r.Type),
			UniqueID: r.UID,
			Attrs:    make(map[keychain.Attr][]byte),
			Data:     r.Data,
		}
	}
	var attrs []attrRow
	if err := db.NewSelect().Model(&attrs).Where("uid IN (?)", bun.In(uids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("loading attributes: %w", err)
	}
	for _, a := range attrs {
		if i, ok := index[a.UID]; ok {
			recs[i].Attrs[keychain.Attr(a.Tag)] = a.Value
		}
	}
	return recs, nil
}

func (d *database) Fetch(t keychain.RecordType, uniqueID string) (keychain.Record, error) {
	ctx := context.Background()
	db, err := d.openUnlocked()
	if err != nil {
		return keychain.Record{}, err
	}
	var rows []recordRow
	err = db.NewSelect().Model(&rows).
		Where("uid = ?", uniqueID).
		Where("type = ?", uint32(t)).
		Scan(ctx)
	if err != nil {
		return keychain.Record{}, err
	}
	if len(rows) == 0 {
		return keychain.Record{}, fmt.Errorf("%w: record %s", keychain.ErrNotFound, uniqueID)
	}
	recs, err := withAttrs(ctx, db, rows)
	if err != nil {
		return keychain.Record{}, err
	}
	return recs[0], nil
}

func (d *database) Insert(rec *keychain.Record) error {
	ctx := context.Background()
	db, err := d.openUnlocked()
	if err != nil {
		return err
	}
	uid := uuid.NewString()
	now := time.Now().UTC()
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := &recordRow{UID: uid, Type: uint32(rec.Type), Data: rec.Data, CreatedAt: now, UpdatedAt: now}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		return insertAttrs(ctx, tx, uid, rec.Attrs)
	})
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	rec.UniqueID = uid
	return nil
}

func insertAttrs(ctx context.Context, tx bun.Tx, uid string, attrs map[keychain.Attr][]byte) error {
	if len(attrs) == 0 {
		return nil
	}
	rows := make([]attrRow, 0, len(attrs))
	for tag, v := range attrs {
		rows = append(rows, attrRow{UID: uid, Tag: uint32(tag), Value: v})
	}
	_, err := tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func (d *database) Update(rec keychain.Record) error {
	ctx := context.Background()
	db, err := d.openUnlocked()
	if err != nil {
		return err
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*recordRow)(nil)).
			Set("data = ?", rec.Data).
			Set("updated_at = ?", time.Now().UTC()).
			Where("uid = ?", rec.UniqueID).
			Where("type = ?", uint32(rec.Type)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: record %s", keychain.ErrNotFound, rec.UniqueID)
		}
		if _, err := tx.NewDelete().Model((*attrRow)(nil)).Where("uid = ?", rec.UniqueID).Exec(ctx); err != nil {
			return err
		}
		return insertAttrs(ctx, tx, rec.UniqueID, rec.Attrs)
	})
}

func (d *database) DeleteRecord(t keychain.RecordType, uniqueID string) error {
	ctx := context.Background()
	db, err := d.openUnlocked()
	if err != nil {
		return err
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*recordRow)(nil)).
			Where("uid = ?", uniqueID).
			Where("type = ?", uint32(t)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: record %s", keychain.ErrNotFound, uniqueID)
		}
		_, err = tx.NewDelete().Model((*attrRow)(nil)).Where("uid = ?", uniqueID).Exec(ctx)
		return err
	})
}

type rowCursor struct {
	records []keychain.Record
	pos     int
}

func (c *rowCursor) Next() (keychain.Record, bool, error) {
	if c.pos >= len(c.records) {
		return keychain.Record{}, false, nil
	}
	rec := c.records[c.pos]
	c.pos++
	return rec, true, nil
}

func (c *rowCursor) Close() error { return nil }
