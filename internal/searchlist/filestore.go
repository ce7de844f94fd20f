package searchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/metrics"
)

// FileStore persists one scope's list as a JSON file.
type FileStore struct {
	mu     sync.Mutex
	scope  Scope
	path   string
	seed   Contents
	l      list
	loaded bool
	mtime  time.Time
	size   int64
	logger *slog.Logger
}

// NewFileStore returns a store backed by dir/<scope>.json. seed supplies
// the contents used while the file does not exist.
func NewFileStore(scope Scope, dir string, seed Contents) *FileStore {
	seed = seed.clone()
	seed.normalize()
	return &FileStore{
		scope:  scope,
		path:   filepath.Join(dir, scope.FileName()),
		seed:   seed,
		logger: slog.With("component", "searchlist", "scope", scope.String()),
	}
}

func (s *FileStore) Scope() Scope { return s.scope }

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Revert(forWrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading search list: %w", err)
		}
		if !s.loaded || forWrite || !s.mtime.IsZero() {
			s.l = list{contents: s.seed.clone()}
			s.loaded = true
			s.mtime, s.size = time.Time{}, 0
		}
		return nil
	}

	if s.loaded && !forWrite && info.ModTime().Equal(s.mtime) && info.Size() == s.size {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading search list: %w", err)
	}
	var c Contents
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("corrupt search list file, using defaults", "path", s.path, "error", err)
		c = s.seed.clone()
	}
	c.normalize()
	s.l = list{contents: c}
	s.loaded = true
	s.mtime, s.size = info.ModTime(), info.Size()
	return nil
}

// Save writes the list if it changed since the last Revert or Save. On
// failure the unsaved changes are discarded and the next Revert reloads
// from disk.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.l.dirty {
		return nil
	}
	if err := s.write(); err != nil {
		s.l = list{}
		s.loaded = false
		s.mtime, s.size = time.Time{}, 0
		return err
	}
	s.l.dirty = false
	metrics.SearchListSaves.WithLabelValues(s.scope.String()).Inc()
	s.logger.Debug("saved search list", "path", s.path, "entries", len(s.l.contents.SearchList))
	return nil
}

func (s *FileStore) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.l.contents, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mtime, s.size = info.ModTime(), info.Size()
	}
	return nil
}

func (s *FileStore) SearchList() []keychain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.searchList()
}

func (s *FileStore) SetSearchList(ids []keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.setSearchList(ids)
}

func (s *FileStore) Default() keychain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.contents.Default
}

func (s *FileStore) SetDefault(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.setDefault(id)
}

func (s *FileStore) Login() keychain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.contents.Login
}

func (s *FileStore) SetLogin(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.setLogin(id)
}

func (s *FileStore) Member(id keychain.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.member(id)
}

func (s *FileStore) Add(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.add(id)
}

func (s *FileStore) Remove(id keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.remove(id)
}

func (s *FileStore) Rename(oldID, newID keychain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.rename(oldID, newID)
}
