package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benaskins/keyring/internal/audit"
	"github.com/benaskins/keyring/internal/config"
	"github.com/benaskins/keyring/internal/event"
	"github.com/benaskins/keyring/internal/identity"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
	"github.com/benaskins/keyring/internal/sqlitedb"
	"github.com/benaskins/keyring/internal/storage"
)

// app is the wired storage stack one command runs against.
type app struct {
	cfg      *config.Config
	engine   *sqlitedb.Engine
	auditLog *audit.Logger
	manager  *storage.Manager
	resolver *identity.Resolver
	system   *identity.SystemIdentities
}

// openApp loads configuration and wires the storage manager. actor tags
// audit entries ("cli" or "watch"); extra notifiers receive every event.
func openApp(actor string, extra ...event.Notifier) (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadEnv(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel == "" && cfg.LogLevel != "" {
		if err := setupLogging(cfg.Level()); err != nil {
			return nil, err
		}
	}

	scope, err := cfg.CurrentScope()
	if err != nil {
		return nil, err
	}
	home := config.Home()
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", home, err)
	}

	a := &app{cfg: cfg, engine: sqlitedb.NewEngine()}

	var fileEngine keychain.Engine = a.engine
	notifiers := event.Multi{event.NewLogNotifier()}
	if cfg.AuditLog {
		a.auditLog, err = audit.NewLogger(filepath.Join(home, "audit.log"))
		if err != nil {
			a.close()
			return nil, err
		}
		metadata, err := audit.NewMetadataStore(filepath.Join(home, "metadata.json"))
		if err != nil {
			a.close()
			return nil, err
		}
		fileEngine = audit.NewEngine(a.engine, a.auditLog, metadata, actor)
		notifiers = append(notifiers, audit.NewNotifier(a.auditLog, actor))
	}

	notifiers = append(notifiers, extra...)

	registry := keychain.NewRegistry(keychain.Mux{
		keychain.FileModule:     fileEngine,
		keychain.PlatformModule: keychain.NewPlatformEngine(),
	})
	dirs := cfg.KeychainDirs()
	prefsDir := cfg.PreferencesPath()

	a.manager, err = storage.New(storage.Config{
		Registry:           registry,
		Stores:             storage.FileStores(prefsDir, dirs, cfg.DynamicIDs()),
		KeychainDirs:       dirs,
		PreferencesDir:     prefsDir,
		Scope:              scope,
		Notifier:           notifiers,
		Prompter:           terminalPrompter{},
		InteractionAllowed: cfg.Interactive(),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.resolver = identity.NewResolver(a.manager, identity.WithLookupLogging(cfg.LogIdentityPreferenceLookup))
	a.system = identity.NewSystemIdentities(
		filepath.Join(home, "system-identities.json"),
		filepath.Join(dirs[searchlist.System], storage.SystemKeychainName),
		a.manager,
	)
	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.auditLog != nil {
		errs = append(errs, a.auditLog.Close())
	}
	return errors.Join(errs...)
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(actor string, fn func(*app) error) error {
	a, err := openApp(actor)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// handles resolves command-line keychain paths.
func (a *app) handles(paths []string) ([]*keychain.Handle, error) {
	out := make([]*keychain.Handle, 0, len(paths))
	for _, p := range paths {
		h, err := a.manager.Make(p, false)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
