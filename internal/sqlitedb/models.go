package sqlitedb

import (
	"time"

	"github.com/uptrace/bun"
)

// metaRow holds the single row of per-keychain settings.
type metaRow struct {
	bun.BaseModel `bun:"table:keychain_meta"`

	ID           int       `bun:"id,pk"`
	SecretHash   []byte    `bun:"secret_hash,notnull"`
	LockInterval int64     `bun:"lock_interval,notnull"`
	LockOnSleep  bool      `bun:"lock_on_sleep,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

type recordRow struct {
	bun.BaseModel `bun:"table:records"`

	Seq       int64     `bun:"seq,pk,autoincrement"`
	UID       string    `bun:"uid,notnull,unique"`
	Type      uint32    `bun:"type,notnull"`
	Data      []byte    `bun:"data"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type attrRow struct {
	bun.BaseModel `bun:"table:attributes"`

	UID   string `bun:"uid,pk"`
	Tag   uint32 `bun:"tag,pk"`
	Value []byte `bun:"value"`
}

const metaID = 1
