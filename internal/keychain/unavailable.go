package keychain

import "fmt"

// unavailableDatabase stands in for keychains whose module has no engine.
type unavailableDatabase struct {
	id ID
}

func (d unavailableDatabase) err() error {
	return fmt.Errorf("%w: no engine for module %q", ErrUnavailable, d.id.Module)
}

func (d unavailableDatabase) ID() ID { return d.id }
func (d unavailableDatabase) Exists() (bool, error) { return false, d.err() }
func (d unavailableDatabase) IsLocked() bool { return true }
func (d unavailableDatabase) Unlock([]byte) error { return d.err() }
func (d unavailableDatabase) Lock() error { return d.err() }
func (d unavailableDatabase) Create([]byte) error { return d.err() }
func (d unavailableDatabase) Rename(string) (ID, error) { return ID{}, d.err() }
func (d unavailableDatabase) Delete() error { return d.err() }
func (d unavailableDatabase) ChangePassphrase(_, _ []byte) error { return d.err() }
func (d unavailableDatabase) SetSettings(Settings) error { return d.err() }
func (d unavailableDatabase) Search(Query) (RecordCursor, error) { return nil, d.err() }
func (d unavailableDatabase) Fetch(RecordType, string) (Record, error) { return Record{}, d.err() }
func (d unavailableDatabase) Insert(*Record) error { return d.err() }
func (d unavailableDatabase) Update(Record) error { return d.err() }
func (d unavailableDatabase) DeleteRecord(RecordType, string) error { return d.err() }
