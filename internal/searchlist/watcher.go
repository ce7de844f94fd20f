package searchlist

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 500 * time.Millisecond

// Watcher observes a preferences directory for list files rewritten by
// other processes.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher returns a watcher for dir.
func NewWatcher(dir string) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: watcherDebounce,
		logger:   slog.With("component", "searchlist-watcher"),
	}
}

// Run watches the directory and calls onChange with the scopes whose files
// changed, once per burst of events. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, onChange func([]Scope)) error {
	if err := os.MkdirAll(w.dir, 0700); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info("watching preferences directory for changes", "dir", w.dir)

	var debounceTimer *time.Timer
	pending := &pendingScopes{}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			scope, ok := scopeForFile(event.Name)
			if !ok {
				continue
			}
			w.logger.Debug("search list file changed", "file", event.Name, "op", event.Op)

			pending.add(scope)

			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				if scopes := pending.take(); len(scopes) > 0 {
					onChange(scopes)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func scopeForFile(name string) (Scope, bool) {
	base := filepath.Base(name)
	for i := range scopeNames {
		s := Scope(i)
		if s.Persisted() && base == s.FileName() {
			return s, true
		}
	}
	return 0, false
}

// pendingScopes collects the scopes touched during a burst. Each scope
// occupies at most one slot, so a burst can never crowd one out.
type pendingScopes struct {
	mu  sync.Mutex
	set map[Scope]bool
}

func (p *pendingScopes) add(s Scope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set == nil {
		p.set = make(map[Scope]bool)
	}
	p.set[s] = true
}

// take returns the collected scopes in scope order and empties the set.
func (p *pendingScopes) take() []Scope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := slices.Sorted(maps.Keys(p.set))
	clear(p.set)
	return out
}
