// Package keychain models independent credential databases ("keychains") and
// the process-wide cache of open handles to them.
//
// A keychain is identified by an ID (engine module + path). The Registry maps
// each ID to at most one live Handle; handles wrap a Database supplied by an
// Engine. Records inside a database are searched with a Query made of
// attribute predicates.
//
// The storage manager, cursor and identity packages build on these types;
// nothing here knows about search lists or scopes.
package keychain

import "time"

// Settings controls the auto-lock behaviour of a single database.
type Settings struct {
	// LockInterval is the idle time after which the database locks.
	// Zero means never.
	LockInterval time.Duration
	LockOnSleep  bool
}

// NeverLock is applied to freshly created login keychains.
var NeverLock = Settings{}

// Database is one open connection to a credential database. Implementations
// are supplied by an Engine and must be safe for concurrent use.
type Database interface {
	ID() ID
	Exists() (bool, error)
	IsLocked() bool
	Unlock(secret []byte) error
	Lock() error
	Create(secret []byte) error
	// Rename moves the database to newName and returns its new identifier.
	Rename(newName string) (ID, error)
	Delete() error
	ChangePassphrase(oldSecret, newSecret []byte) error
	SetSettings(s Settings) error

	// Search starts a native query. Errors may surface here or from Next.
	Search(q Query) (RecordCursor, error)
	Fetch(t RecordType, uniqueID string) (Record, error)
	// Insert stores a new record and assigns rec.UniqueID.
	Insert(rec *Record) error
	Update(rec Record) error
	DeleteRecord(t RecordType, uniqueID string) error
}

// RecordCursor is a database's native single-pass query.
type RecordCursor interface {
	// Next returns the next matching record. ok is false once the query is
	// exhausted.
	Next() (rec Record, ok bool, err error)
	Close() error
}

// Engine constructs Database connections. Open must not fail: a database
// that cannot be reached reports errors from its methods instead.
type Engine interface {
	Open(id ID) Database
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(id ID) Database

func (f EngineFunc) Open(id ID) Database { return f(id) }

// Mux routes Open calls to an engine by ID.Module.
type Mux map[string]Engine

func (m Mux) Open(id ID) Database {
	if e, ok := m[id.Module]; ok {
		return e.Open(id)
	}
	return unavailableDatabase{id: id}
}
