package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/benaskins/keyring/internal/event"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
)

type fixture struct {
	dir      string
	engine   *keychain.MemoryEngine
	registry *keychain.Registry
	stores   map[searchlist.Scope]*searchlist.MemoryStore
	events   *event.Recorder
	m        *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(*Config) {})
}

func newFixtureWith(t *testing.T, configure func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		dir:    t.TempDir(),
		engine: keychain.NewMemoryEngine(),
		events: event.NewRecorder(64),
		stores: map[searchlist.Scope]*searchlist.MemoryStore{
			searchlist.User:    searchlist.NewMemoryStore(searchlist.User),
			searchlist.System:  searchlist.NewMemoryStore(searchlist.System),
			searchlist.Common:  searchlist.NewMemoryStore(searchlist.Common),
			searchlist.Dynamic: searchlist.NewMemoryStore(searchlist.Dynamic),
		},
	}
	f.registry = keychain.NewRegistry(f.engine)

	stores := make(map[searchlist.Scope]searchlist.Store, len(f.stores))
	for s, st := range f.stores {
		stores[s] = st
	}
	user := searchlist.User
	cfg := Config{
		Registry: f.registry,
		Stores:   stores,
		KeychainDirs: map[searchlist.Scope]string{
			searchlist.User:   f.dir,
			searchlist.System: filepath.Join(f.dir, "system"),
		},
		Scope:    &user,
		Notifier: f.events,
		UserName: "alice",
	}
	configure(&cfg)

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.m = m
	return f
}

func (f *fixture) id(name string) keychain.ID {
	return keychain.PathID(filepath.Join(f.dir, name))
}

// create makes an unlocked keychain called name with an empty passphrase.
func (f *fixture) create(t *testing.T, name string) *keychain.Handle {
	t.Helper()
	h := f.registry.HandleFor(f.id(name))
	if err := h.Create(nil); err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return h
}

func ids(handles []*keychain.Handle) []keychain.ID {
	out := make([]keychain.ID, len(handles))
	for i, h := range handles {
		out[i] = h.ID()
	}
	return out
}

func TestNewRequiresPersistedStores(t *testing.T) {
	_, err := New(Config{
		Registry: keychain.NewRegistry(keychain.NewMemoryEngine()),
		Stores: map[searchlist.Scope]searchlist.Store{
			searchlist.User: searchlist.NewMemoryStore(searchlist.User),
		},
	})
	if !errors.Is(err, keychain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSearchListOrdering(t *testing.T) {
	f := newFixture(t)
	d, a, b, c := f.id("d"), f.id("a"), f.id("b"), f.id("c")
	f.stores[searchlist.Dynamic].SetSearchList([]keychain.ID{d})
	f.stores[searchlist.User].SetSearchList([]keychain.ID{a, b})
	f.stores[searchlist.System].SetSearchList([]keychain.ID{f.id("sys")})
	f.stores[searchlist.Common].SetSearchList([]keychain.ID{c})

	first, err := f.m.SearchList()
	if err != nil {
		t.Fatalf("SearchList: %v", err)
	}
	want := []keychain.ID{d, a, b, c}
	if got := ids(first); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	second, err := f.m.SearchList()
	if err != nil {
		t.Fatalf("SearchList: %v", err)
	}
	if !slices.Equal(first, second) {
		t.Error("expected repeated SearchList to return the same handles")
	}
}

func TestSearchListFollowsScope(t *testing.T) {
	f := newFixture(t)
	sys := f.id("sys")
	f.stores[searchlist.System].SetSearchList([]keychain.ID{sys})

	if err := f.m.SetScope(searchlist.System); err != nil {
		t.Fatalf("SetScope: %v", err)
	}
	got, err := f.m.SearchList()
	if err != nil {
		t.Fatalf("SearchList: %v", err)
	}
	if !slices.Equal(ids(got), []keychain.ID{sys}) {
		t.Errorf("expected system list, got %v", ids(got))
	}
	if f.m.KeychainDir() != filepath.Join(f.dir, "system") {
		t.Errorf("unexpected keychain dir %q", f.m.KeychainDir())
	}
}

func TestSetScopeRejectsDynamic(t *testing.T) {
	f := newFixture(t)
	if err := f.m.SetScope(searchlist.Dynamic); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
	if f.m.Scope() != searchlist.User {
		t.Errorf("expected scope to stay user, got %v", f.m.Scope())
	}
}

func TestSetSearchListStripsCommonSuffix(t *testing.T) {
	f := newFixture(t)
	a, c := f.id("a"), f.id("c")
	f.stores[searchlist.Common].SetSearchList([]keychain.ID{c})

	handles := f.registry.HandlesFor([]keychain.ID{a, c})
	if err := f.m.SetSearchList(handles); err != nil {
		t.Fatalf("SetSearchList: %v", err)
	}
	if got := f.stores[searchlist.User].SearchList(); !slices.Equal(got, []keychain.ID{a}) {
		t.Errorf("expected common suffix stripped, got %v", got)
	}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, []event.Kind{event.ListChanged}) {
		t.Errorf("expected one list_changed, got %v", kinds)
	}

	if err := f.m.SetSearchList(handles); err != nil {
		t.Fatalf("SetSearchList: %v", err)
	}
	if kinds := f.events.Kinds(); len(kinds) != 0 {
		t.Errorf("expected no event for an unchanged list, got %v", kinds)
	}
}

func TestOptionalSearchList(t *testing.T) {
	f := newFixture(t)
	a := f.id("a")
	f.stores[searchlist.User].SetSearchList([]keychain.ID{a})

	got, err := f.m.OptionalSearchList(nil)
	if err != nil {
		t.Fatalf("OptionalSearchList: %v", err)
	}
	if !slices.Equal(ids(got), []keychain.ID{a}) {
		t.Errorf("expected merged list, got %v", ids(got))
	}

	explicit := []*keychain.Handle{}
	got, _ = f.m.OptionalSearchList(explicit)
	if len(got) != 0 {
		t.Errorf("expected explicit empty list to be kept, got %v", ids(got))
	}
}

func TestDefaultKeychain(t *testing.T) {
	f := newFixture(t)
	if _, err := f.m.DefaultKeychain(); !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	h := f.create(t, "a")
	if err := f.m.SetDefaultKeychain(h); err != nil {
		t.Fatalf("SetDefaultKeychain: %v", err)
	}
	got, err := f.m.DefaultKeychain()
	if err != nil {
		t.Fatalf("DefaultKeychain: %v", err)
	}
	if got != h {
		t.Error("expected the cached handle back")
	}

	if err := f.m.SetDefaultKeychain(h); err != nil {
		t.Fatalf("SetDefaultKeychain: %v", err)
	}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, []event.Kind{event.DefaultChanged}) {
		t.Errorf("expected a single default_changed, got %v", kinds)
	}
}

func TestLenAndAt(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.id("a"), f.id("b"), f.id("c")
	f.stores[searchlist.User].SetSearchList([]keychain.ID{a, b})
	f.stores[searchlist.Common].SetSearchList([]keychain.ID{c})
	f.stores[searchlist.Dynamic].SetSearchList([]keychain.ID{f.id("d")})

	n, err := f.m.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	for i, want := range []keychain.ID{a, b, c} {
		h, err := f.m.At(i)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		if h.ID() != want {
			t.Errorf("At(%d) = %v, want %v", i, h.ID(), want)
		}
	}
	if _, err := f.m.At(3); !errors.Is(err, keychain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument past the end, got %v", err)
	}
	if _, err := f.m.At(-1); !errors.Is(err, keychain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a negative index, got %v", err)
	}
}

func TestMakeResolvesRelativePaths(t *testing.T) {
	f := newFixture(t)
	h, err := f.m.Make("work.keychain", false)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if h.ID() != f.id("work.keychain") {
		t.Errorf("expected %v, got %v", f.id("work.keychain"), h.ID())
	}

	abs := filepath.Join(t.TempDir(), "abs.keychain")
	h, err = f.m.Make(abs, false)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if h.ID().Name != abs {
		t.Errorf("expected absolute path kept, got %q", h.ID().Name)
	}

	if _, err := f.m.Make("", false); !errors.Is(err, keychain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty path, got %v", err)
	}
}

func TestMakeKeychainAdd(t *testing.T) {
	f := newFixture(t)
	existing := f.create(t, "existing")
	shared := f.create(t, "shared")
	f.stores[searchlist.Common].SetSearchList([]keychain.ID{shared.ID()})

	if _, err := f.m.MakeKeychain(f.id("missing"), true); err != nil {
		t.Fatalf("MakeKeychain missing: %v", err)
	}
	if _, err := f.m.MakeKeychain(shared.ID(), true); err != nil {
		t.Fatalf("MakeKeychain shared: %v", err)
	}
	if got := f.stores[searchlist.User].SearchList(); len(got) != 0 {
		t.Fatalf("expected missing and common keychains not to be added, got %v", got)
	}

	h, err := f.m.MakeKeychain(existing.ID(), true)
	if err != nil {
		t.Fatalf("MakeKeychain existing: %v", err)
	}
	if h != existing {
		t.Error("expected the cached handle")
	}
	if got := f.stores[searchlist.User].SearchList(); !slices.Equal(got, []keychain.ID{existing.ID()}) {
		t.Errorf("expected existing keychain added, got %v", got)
	}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, []event.Kind{event.ListChanged}) {
		t.Errorf("expected one list_changed, got %v", kinds)
	}

	if _, err := f.m.MakeKeychain(existing.ID(), true); err != nil {
		t.Fatalf("MakeKeychain again: %v", err)
	}
	if kinds := f.events.Kinds(); len(kinds) != 0 {
		t.Errorf("expected no event for a member, got %v", kinds)
	}
}

func TestCreateAddsAndSetsDefault(t *testing.T) {
	f := newFixture(t)
	a := f.registry.HandleFor(f.id("a"))
	if err := f.m.Create(a, []byte("pw")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	b := f.registry.HandleFor(f.id("b"))
	if err := f.m.Create(b, []byte("pw")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	user := f.stores[searchlist.User]
	if got := user.SearchList(); !slices.Equal(got, []keychain.ID{a.ID(), b.ID()}) {
		t.Errorf("expected [a b], got %v", got)
	}
	if user.Default() != a.ID() {
		t.Errorf("expected first keychain to become default, got %v", user.Default())
	}
	want := []event.Kind{event.ListChanged, event.DefaultChanged, event.ListChanged}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, want) {
		t.Errorf("expected %v, got %v", want, kinds)
	}

	if err := f.m.Create(a, nil); !errors.Is(err, keychain.ErrConflict) {
		t.Errorf("expected ErrConflict creating twice, got %v", err)
	}
}

func TestRenamePreservesPositionAndDefault(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.create(t, "a"), f.create(t, "b"), f.create(t, "c")
	user := f.stores[searchlist.User]
	user.SetSearchList([]keychain.ID{a.ID(), b.ID(), c.ID()})
	user.SetDefault(b.ID())

	if err := f.m.Rename(b, "b2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	renamed := f.id("b2")
	if b.ID() != renamed {
		t.Fatalf("expected handle to carry new id, got %v", b.ID())
	}
	if got := user.SearchList(); !slices.Equal(got, []keychain.ID{a.ID(), renamed, c.ID()}) {
		t.Errorf("expected [a b2 c], got %v", got)
	}
	if user.Default() != renamed {
		t.Errorf("expected default b2, got %v", user.Default())
	}
	if f.registry.HandleFor(renamed) != b {
		t.Error("expected registry to map the new id to the same handle")
	}
	if _, ok := f.registry.Lookup(f.id("b")); ok {
		t.Error("expected old id to be gone from the registry")
	}
	want := []event.Kind{event.ListChanged, event.DefaultChanged}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, want) {
		t.Errorf("expected %v, got %v", want, kinds)
	}
}

func TestRenameNonDefault(t *testing.T) {
	f := newFixture(t)
	a, b := f.create(t, "a"), f.create(t, "b")
	user := f.stores[searchlist.User]
	user.SetSearchList([]keychain.ID{a.ID(), b.ID()})
	user.SetDefault(a.ID())

	if err := f.m.Rename(b, "b2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, []event.Kind{event.ListChanged}) {
		t.Errorf("expected only list_changed, got %v", kinds)
	}
	if err := f.m.Rename(b, ""); !errors.Is(err, keychain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRenameUniqueSkipsTakenNames(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, "login.keychain")
	f.create(t, "old2.keychain")
	if err := os.WriteFile(filepath.Join(f.dir, "old1.keychain"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := f.m.RenameUnique(h, "old"); err != nil {
		t.Fatalf("RenameUnique: %v", err)
	}
	if want := f.id("old3.keychain"); h.ID() != want {
		t.Errorf("expected %v, got %v", want, h.ID())
	}
}

func TestRemoveClearsDefault(t *testing.T) {
	f := newFixture(t)
	a, b := f.create(t, "a"), f.create(t, "b")
	user := f.stores[searchlist.User]
	user.SetSearchList([]keychain.ID{a.ID(), b.ID()})
	user.SetDefault(a.ID())

	if err := f.m.Remove([]*keychain.Handle{a}, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := user.SearchList(); !slices.Equal(got, []keychain.ID{b.ID()}) {
		t.Errorf("expected [b], got %v", got)
	}
	if _, err := f.m.DefaultKeychain(); !errors.Is(err, keychain.ErrNotFound) {
		t.Errorf("expected no default after removal, got %v", err)
	}
	if ok, _ := a.Exists(); !ok {
		t.Error("expected keychain data to be kept")
	}
	if !a.InCache() {
		t.Error("expected handle to stay cached without deleteData")
	}
	want := []event.Kind{event.ListChanged, event.DefaultChanged}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, want) {
		t.Errorf("expected %v, got %v", want, kinds)
	}
}

func TestRemoveDeletesData(t *testing.T) {
	f := newFixture(t)
	a, b := f.create(t, "a"), f.create(t, "b")
	f.stores[searchlist.User].SetSearchList([]keychain.ID{a.ID(), b.ID()})
	missing := f.registry.HandleFor(f.id("missing"))

	err := f.m.Remove([]*keychain.Handle{a, missing, b}, true)
	if !errors.Is(err, keychain.ErrDoesNotExist) {
		t.Fatalf("expected the missing keychain's error, got %v", err)
	}
	for _, h := range []*keychain.Handle{a, b} {
		if ok, _ := h.Exists(); ok {
			t.Errorf("expected %v deleted", h)
		}
		if h.InCache() {
			t.Errorf("expected %v evicted", h)
		}
	}
	if got := f.stores[searchlist.User].SearchList(); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}

func TestDomainLists(t *testing.T) {
	f := newFixture(t)
	a, sys := f.create(t, "a"), f.create(t, "sys")

	if err := f.m.SetDomainSearchList(searchlist.System, []*keychain.Handle{sys}); err != nil {
		t.Fatalf("SetDomainSearchList: %v", err)
	}
	if kinds := f.events.Kinds(); len(kinds) != 0 {
		t.Errorf("expected no event for a non-current scope, got %v", kinds)
	}
	got, err := f.m.DomainSearchList(searchlist.System)
	if err != nil {
		t.Fatalf("DomainSearchList: %v", err)
	}
	if !slices.Equal(ids(got), []keychain.ID{sys.ID()}) {
		t.Errorf("expected [sys], got %v", ids(got))
	}

	if err := f.m.SetDomainSearchList(searchlist.User, []*keychain.Handle{a}); err != nil {
		t.Fatalf("SetDomainSearchList: %v", err)
	}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, []event.Kind{event.ListChanged}) {
		t.Errorf("expected list_changed for the current scope, got %v", kinds)
	}

	if err := f.m.SetDomainSearchList(searchlist.Dynamic, nil); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope writing dynamic, got %v", err)
	}
	if _, err := f.m.DomainDefault(searchlist.Dynamic); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope for dynamic default, got %v", err)
	}
	if _, err := f.m.DomainSearchList(searchlist.Dynamic); err != nil {
		t.Errorf("expected dynamic list to be readable, got %v", err)
	}
}

func TestDomainDefault(t *testing.T) {
	f := newFixture(t)
	sys := f.create(t, "sys")

	if _, err := f.m.DomainDefault(searchlist.System); !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.m.SetDomainDefault(searchlist.System, sys); err != nil {
		t.Fatalf("SetDomainDefault: %v", err)
	}
	got, err := f.m.DomainDefault(searchlist.System)
	if err != nil {
		t.Fatalf("DomainDefault: %v", err)
	}
	if got != sys {
		t.Errorf("expected sys, got %v", got)
	}
	if _, err := f.m.DefaultKeychain(); !errors.Is(err, keychain.ErrNotFound) {
		t.Errorf("expected user default untouched, got %v", err)
	}
	if err := f.m.SetDomainDefault(searchlist.Dynamic, sys); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope, got %v", err)
	}
}

func TestDomainMembership(t *testing.T) {
	f := newFixture(t)
	a := f.id("a")

	if err := f.m.IsInDomainList(searchlist.Common, a); !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.m.AddToDomainList(searchlist.Common, a); err != nil {
		t.Fatalf("AddToDomainList: %v", err)
	}
	if err := f.m.IsInDomainList(searchlist.Common, a); err != nil {
		t.Errorf("expected member, got %v", err)
	}
	if err := f.m.RemoveFromDomainList(searchlist.Common, a); err != nil {
		t.Fatalf("RemoveFromDomainList: %v", err)
	}
	if err := f.m.IsInDomainList(searchlist.Common, a); !errors.Is(err, keychain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after removal, got %v", err)
	}
	if err := f.m.AddToDomainList(searchlist.Dynamic, a); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope, got %v", err)
	}
	if kinds := f.events.Kinds(); len(kinds) != 0 {
		t.Errorf("expected no events for the common scope, got %v", kinds)
	}
}

func TestCreateCursor(t *testing.T) {
	f := newFixture(t)
	a, b := f.create(t, "a"), f.create(t, "b")
	f.stores[searchlist.User].SetSearchList([]keychain.ID{a.ID(), b.ID()})

	it := keychain.NewItem(keychain.RecordGenericPassword)
	it.SetAttr(keychain.AttrService, []byte("mail"))
	if err := b.AddItem(it); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	f.engine.FailSearch(a.ID(), errors.New("corrupt"))

	c, err := f.m.CreateCursor(keychain.RecordGenericPassword, []keychain.Attribute{
		{Tag: keychain.AttrService, Value: []byte("mail")},
	})
	if err != nil {
		t.Fatalf("CreateCursor: %v", err)
	}
	got, ok, err := c.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if got != it {
		t.Error("expected the canonical item")
	}

	_, err = f.m.CreateCursor(keychain.RecordGenericPassword, []keychain.Attribute{
		keychain.ClassAttribute(keychain.RecordInternetPassword),
	})
	if !errors.Is(err, keychain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a class attribute, got %v", err)
	}

	anyCursor, err := f.m.CreateAnyCursor([]keychain.Attribute{keychain.ClassAttribute(keychain.RecordGenericPassword)})
	if err != nil {
		t.Fatalf("CreateAnyCursor: %v", err)
	}
	if anyCursor.Kind() != keychain.RecordGenericPassword {
		t.Errorf("expected class attribute to set the kind, got %v", anyCursor.Kind())
	}
}

func TestProbe(t *testing.T) {
	f := newFixture(t)
	a, b := f.create(t, "a"), f.create(t, "b")
	if err := b.Lock(); err != nil {
		t.Fatal(err)
	}
	missing := f.registry.HandleFor(f.id("missing"))

	statuses, err := f.m.Probe(context.Background(), []*keychain.Handle{a, b, missing})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	want := []Status{
		{Keychain: a, Exists: true},
		{Keychain: b, Exists: true, Locked: true},
		{Keychain: missing},
	}
	for i, w := range want {
		got := statuses[i]
		if got.Keychain != w.Keychain || got.Exists != w.Exists || got.Locked != w.Locked || got.Err != nil {
			t.Errorf("status %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestProbeCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.m.Probe(ctx, []*keychain.Handle{f.create(t, "a")}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFileStoresSeedConventionalKeychains(t *testing.T) {
	prefs := t.TempDir()
	userDir, systemDir := t.TempDir(), t.TempDir()
	dyn := keychain.PathID(filepath.Join(userDir, "dyn.keychain"))
	stores := FileStores(prefs, map[searchlist.Scope]string{
		searchlist.User:   userDir,
		searchlist.System: systemDir,
	}, []keychain.ID{dyn})

	user := stores[searchlist.User]
	if err := user.Revert(false); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	login := keychain.PathID(filepath.Join(userDir, LoginKeychainName))
	if user.Default() != login || user.Login() != login {
		t.Errorf("expected login keychain seeded, got default=%v login=%v", user.Default(), user.Login())
	}

	system := stores[searchlist.System]
	if err := system.Revert(false); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if want := keychain.PathID(filepath.Join(systemDir, SystemKeychainName)); !slices.Equal(system.SearchList(), []keychain.ID{want}) {
		t.Errorf("expected system keychain seeded, got %v", system.SearchList())
	}
	if got := stores[searchlist.Dynamic].SearchList(); !slices.Equal(got, []keychain.ID{dyn}) {
		t.Errorf("expected dynamic list, got %v", got)
	}
}

func TestFailedSaveLeavesListUnchanged(t *testing.T) {
	prefs := t.TempDir()
	f := newFixtureWith(t, func(cfg *Config) {
		cfg.Stores = FileStores(prefs, nil, nil)
	})
	a, b := f.create(t, "a"), f.create(t, "b")

	if err := f.m.SetSearchList([]*keychain.Handle{a}); err != nil {
		t.Fatalf("SetSearchList: %v", err)
	}
	f.events.Drain()

	// A directory where the temporary file goes makes every write fail.
	if err := os.Mkdir(filepath.Join(prefs, "user.json.tmp"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := f.m.SetSearchList([]*keychain.Handle{a, b}); err == nil {
		t.Fatal("expected save error")
	}
	got, err := f.m.SearchList()
	if err != nil {
		t.Fatalf("SearchList: %v", err)
	}
	if !slices.Equal(ids(got), []keychain.ID{a.ID()}) {
		t.Errorf("expected saved list [a] after failed save, got %v", ids(got))
	}
	if err := f.m.SetDefaultKeychain(b); err == nil {
		t.Fatal("expected save error")
	}
	if _, err := f.m.DefaultKeychain(); !errors.Is(err, keychain.ErrNotFound) {
		t.Errorf("expected unsaved default to be dropped, got %v", err)
	}
	if err := f.m.AddToDomainList(searchlist.User, b.ID()); err == nil {
		t.Fatal("expected save error")
	}
	if err := f.m.IsInDomainList(searchlist.User, b.ID()); !errors.Is(err, keychain.ErrNotFound) {
		t.Errorf("expected unsaved addition to be dropped, got %v", err)
	}
	if kinds := f.events.Kinds(); len(kinds) != 0 {
		t.Errorf("expected no events for failed saves, got %v", kinds)
	}
}

func TestFailedFirstSaveFallsBackToSeed(t *testing.T) {
	prefs := t.TempDir()
	f := newFixtureWith(t, func(cfg *Config) {
		cfg.Stores = FileStores(prefs, nil, nil)
	})
	a := f.create(t, "a")

	if err := os.Mkdir(filepath.Join(prefs, "user.json.tmp"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := f.m.SetSearchList([]*keychain.Handle{a}); err == nil {
		t.Fatal("expected save error")
	}
	got, err := f.m.SearchList()
	if err != nil {
		t.Fatalf("SearchList: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", ids(got))
	}
}

func TestEditDomainListAnnouncesOnlyChanges(t *testing.T) {
	f := newFixture(t)
	a := f.id("a")

	if err := f.m.AddToDomainList(searchlist.User, a); err != nil {
		t.Fatalf("AddToDomainList: %v", err)
	}
	if err := f.m.AddToDomainList(searchlist.User, a); err != nil {
		t.Fatalf("AddToDomainList again: %v", err)
	}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, []event.Kind{event.ListChanged}) {
		t.Errorf("expected one list_changed, got %v", kinds)
	}

	if err := f.m.RemoveFromDomainList(searchlist.User, f.id("absent")); err != nil {
		t.Fatalf("RemoveFromDomainList: %v", err)
	}
	if kinds := f.events.Kinds(); len(kinds) != 0 {
		t.Errorf("expected no event removing an absent keychain, got %v", kinds)
	}
	if err := f.m.RemoveFromDomainList(searchlist.User, a); err != nil {
		t.Fatalf("RemoveFromDomainList: %v", err)
	}
	if kinds := f.events.Kinds(); !slices.Equal(kinds, []event.Kind{event.ListChanged}) {
		t.Errorf("expected list_changed on removal, got %v", kinds)
	}
}
