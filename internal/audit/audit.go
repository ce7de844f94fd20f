// Package audit provides append-only structured logging for keychain
// operations.
//
// Keychain lifecycle changes (create, delete, rename, passphrase change),
// failed unlocks and search-list notifications are recorded to an audit log
// at ~/.keyring/audit.log as newline-delimited JSON.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionKeychainCreate     Action = "keychain_create"
	ActionKeychainDelete     Action = "keychain_delete"
	ActionKeychainRename     Action = "keychain_rename"
	ActionKeychainPassphrase Action = "keychain_passphrase"
	ActionUnlockFailed       Action = "keychain_unlock_failed"
	ActionRecordWrite        Action = "record_write"
	ActionRecordDelete       Action = "record_delete"
	ActionListChanged        Action = "search_list_changed"
	ActionDefaultChanged     Action = "default_changed"
	ActionKeychainChanged    Action = "keychain_changed"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Keychain  string    `json:"keychain,omitempty"`
	Record    string    `json:"record,omitempty"`   // "<kind>/<unique id>"
	NewName   string    `json:"new_name,omitempty"` // rename target
	Actor     string    `json:"actor,omitempty"`    // "cli", "watch"
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.file.Close()
}
