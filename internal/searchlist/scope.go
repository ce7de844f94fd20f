// Package searchlist persists the per-scope ordered keychain lists that the
// storage manager merges into one search list.
package searchlist

import (
	"fmt"
	"strings"

	"github.com/benaskins/keyring/internal/keychain"
)

// Scope partitions search list configuration.
type Scope int

const (
	User Scope = iota
	System
	Common
	Dynamic
)

var scopeNames = [...]string{
	User:    "user",
	System:  "system",
	Common:  "common",
	Dynamic: "dynamic",
}

func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return fmt.Sprintf("scope(%d)", int(s))
	}
	return scopeNames[s]
}

// Persisted reports whether lists for s are written to disk.
func (s Scope) Persisted() bool {
	return s != Dynamic
}

// ParseScope parses the names produced by String.
func ParseScope(s string) (Scope, error) {
	for i, name := range scopeNames {
		if strings.EqualFold(name, s) {
			return Scope(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown scope %q", keychain.ErrInvalidArgument, s)
}

// FileName is the preference file holding the list for s.
func (s Scope) FileName() string {
	return s.String() + ".json"
}
