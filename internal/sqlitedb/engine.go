// Package sqlitedb stores each file keychain as its own SQLite database.
//
// The passphrase is kept as a bcrypt hash; a keychain is unlocked for the
// lifetime of the Engine once the passphrase has been verified. Record
// attributes live in their own table so that searches can be expressed
// as keychain.Query predicates evaluated over the loaded rows.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/benaskins/keyring/internal/keychain"
)

const busyTimeoutMillis = 5000

// Engine opens file keychains. It is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	conns    map[string]*bun.DB
	unlocked map[string]bool
	cost     int
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBcryptCost sets the bcrypt cost used for new passphrases.
func WithBcryptCost(cost int) Option {
	return func(e *Engine) { e.cost = cost }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		conns:    make(map[string]*bun.DB),
		unlocked: make(map[string]bool),
		cost:     defaultCost,
		logger:   slog.With("component", "sqlitedb"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Open(id keychain.ID) keychain.Database {
	return &database{engine: e, id: id}
}

// Close closes every open connection. Keychains lock again on the next
// engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for path, db := range e.conns {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
	}
	clear(e.conns)
	clear(e.unlocked)
	return errors.Join(errs...)
}

// conn returns the open connection for path, opening it if needed. The
// caller holds e.mu.
func (e *Engine) conn(path string) (*bun.DB, error) {
	if db, ok := e.conns[path]; ok {
		return db, nil
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeoutMillis)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	e.conns[path] = db
	e.logger.Debug("opened keychain database", "path", path)
	return db, nil
}

// drop closes and forgets path's connection. The caller holds e.mu.
func (e *Engine) drop(path string) {
	if db, ok := e.conns[path]; ok {
		if err := db.Close(); err != nil {
			e.logger.Warn("closing keychain database", "path", path, "error", err)
		}
		delete(e.conns, path)
	}
}

func createSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range []any{(*metaRow)(nil), (*recordRow)(nil), (*attrRow)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	_, err := db.NewCreateIndex().
		Model((*attrRow)(nil)).
		Index("attributes_tag_value").
		Column("tag", "value").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0700)
}
