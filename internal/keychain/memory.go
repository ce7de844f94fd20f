package keychain

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
)

// MemoryEngine keeps every database in process memory. Databases survive
// re-opening for the engine's lifetime, so a Handle evicted from a Registry
// and opened again sees the same records. It is used by tests and as the
// platform fallback where no system keychain exists.
type MemoryEngine struct {
	mu      sync.Mutex
	dbs     map[ID]*memoryState
	nextUID uint64

	searchErrs map[ID]error
	nextErrs   map[ID]error
}

type memoryState struct {
	locked   bool
	secret   []byte
	settings Settings
	records  map[itemKey]Record
	order    []itemKey
}

// NewMemoryEngine returns an engine with no databases.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		dbs:        make(map[ID]*memoryState),
		searchErrs: make(map[ID]error),
		nextErrs:   make(map[ID]error),
	}
}

func (e *MemoryEngine) Open(id ID) Database {
	return &memoryDatabase{engine: e, id: id}
}

// FailSearch makes every Search on id return err until cleared with nil.
func (e *MemoryEngine) FailSearch(id ID, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.searchErrs, id)
		return
	}
	e.searchErrs[id] = err
}

// FailNext makes cursors over id fail on their first Next call.
func (e *MemoryEngine) FailNext(id ID, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.nextErrs, id)
		return
	}
	e.nextErrs[id] = err
}

// Records returns a snapshot of the records stored in id, in insertion order.
func (e *MemoryEngine) Records(id ID) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.dbs[id]
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(st.order))
	for _, k := range st.order {
		out = append(out, st.records[k].Clone())
	}
	return out
}

// Settings returns the settings last applied to id.
func (e *MemoryEngine) Settings(id ID) (Settings, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.dbs[id]
	if !ok {
		return Settings{}, false
	}
	return st.settings, true
}

type memoryDatabase struct {
	engine *MemoryEngine
	id     ID
}

// state returns the live state for the database; caller holds engine.mu.
func (d *memoryDatabase) state() (*memoryState, error) {
	st, ok := d.engine.dbs[d.id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, d.id)
	}
	return st, nil
}

func (d *memoryDatabase) unlockedState() (*memoryState, error) {
	st, err := d.state()
	if err != nil {
		return nil, err
	}
	if st.locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, d.id)
	}
	return st, nil
}

func (d *memoryDatabase) ID() ID {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	return d.id
}

func (d *memoryDatabase) Exists() (bool, error) {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	_, ok := d.engine.dbs[d.id]
	return ok, nil
}

func (d *memoryDatabase) IsLocked() bool {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, ok := d.engine.dbs[d.id]
	return !ok || st.locked
}

func (d *memoryDatabase) Unlock(secret []byte) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.state()
	if err != nil {
		return err
	}
	if !bytes.Equal(st.secret, secret) {
		return fmt.Errorf("%w: %s", ErrAuthFailed, d.id)
	}
	st.locked = false
	return nil
}

func (d *memoryDatabase) Lock() error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.state()
	if err != nil {
		return err
	}
	st.locked = true
	return nil
}

func (d *memoryDatabase) Create(secret []byte) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	if _, ok := d.engine.dbs[d.id]; ok {
		return fmt.Errorf("%w: %s already exists", ErrConflict, d.id)
	}
	d.engine.dbs[d.id] = &memoryState{
		secret:  bytes.Clone(secret),
		records: make(map[itemKey]Record),
	}
	return nil
}

func (d *memoryDatabase) Rename(newName string) (ID, error) {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.state()
	if err != nil {
		return ID{}, err
	}
	newID := d.id
	newID.Name = normalizeName(d.id.Module, newName)
	if _, ok := d.engine.dbs[newID]; ok {
		return ID{}, fmt.Errorf("%w: %s already exists", ErrConflict, newID)
	}
	delete(d.engine.dbs, d.id)
	d.engine.dbs[newID] = st
	d.id = newID
	return newID, nil
}

func (d *memoryDatabase) Delete() error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	if _, err := d.state(); err != nil {
		return err
	}
	delete(d.engine.dbs, d.id)
	return nil
}

func (d *memoryDatabase) ChangePassphrase(oldSecret, newSecret []byte) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.state()
	if err != nil {
		return err
	}
	if !bytes.Equal(st.secret, oldSecret) {
		return fmt.Errorf("%w: %s", ErrAuthFailed, d.id)
	}
	st.secret = bytes.Clone(newSecret)
	return nil
}

func (d *memoryDatabase) SetSettings(s Settings) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.state()
	if err != nil {
		return err
	}
	st.settings = s
	return nil
}

func (d *memoryDatabase) Search(q Query) (RecordCursor, error) {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	if err := d.engine.searchErrs[d.id]; err != nil {
		return nil, err
	}
	st, err := d.unlockedState()
	if err != nil {
		return nil, err
	}
	var matched []Record
	for _, k := range st.order {
		if rec := st.records[k]; q.Matches(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	return &sliceCursor{records: matched, err: d.engine.nextErrs[d.id]}, nil
}

func (d *memoryDatabase) Fetch(t RecordType, uniqueID string) (Record, error) {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.unlockedState()
	if err != nil {
		return Record{}, err
	}
	rec, ok := st.records[itemKey{t: t, uid: uniqueID}]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s record %s in %s", ErrNotFound, t, uniqueID, d.id)
	}
	return rec.Clone(), nil
}

func (d *memoryDatabase) Insert(rec *Record) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.unlockedState()
	if err != nil {
		return err
	}
	d.engine.nextUID++
	rec.UniqueID = fmt.Sprintf("m%d", d.engine.nextUID)
	key := itemKey{t: rec.Type, uid: rec.UniqueID}
	st.records[key] = rec.Clone()
	st.order = append(st.order, key)
	return nil
}

func (d *memoryDatabase) Update(rec Record) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.unlockedState()
	if err != nil {
		return err
	}
	key := itemKey{t: rec.Type, uid: rec.UniqueID}
	if _, ok := st.records[key]; !ok {
		return fmt.Errorf("%w: %s record %s in %s", ErrNotFound, rec.Type, rec.UniqueID, d.id)
	}
	st.records[key] = rec.Clone()
	return nil
}

func (d *memoryDatabase) DeleteRecord(t RecordType, uniqueID string) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	st, err := d.unlockedState()
	if err != nil {
		return err
	}
	key := itemKey{t: t, uid: uniqueID}
	if _, ok := st.records[key]; !ok {
		return fmt.Errorf("%w: %s record %s in %s", ErrNotFound, t, uniqueID, d.id)
	}
	delete(st.records, key)
	st.order = slices.DeleteFunc(st.order, func(k itemKey) bool { return k == key })
	return nil
}

// sliceCursor iterates a precomputed result set. A non-nil err is returned
// by the first Next call.
type sliceCursor struct {
	records []Record
	pos     int
	err     error
}

func (c *sliceCursor) Next() (Record, bool, error) {
	if c.err != nil {
		err := c.err
		c.err = nil
		c.pos = len(c.records)
		return Record{}, false, err
	}
	if c.pos >= len(c.records) {
		return Record{}, false, nil
	}
	rec := c.records[c.pos]
	c.pos++
	return rec, true, nil
}

func (c *sliceCursor) Close() error { return nil }
