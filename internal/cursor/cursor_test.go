package cursor

import (
	"errors"
	"testing"
	"time"

	"github.com/benaskins/keyring/internal/keychain"
)

type fixture struct {
	engine   *keychain.MemoryEngine
	registry *keychain.Registry
}

func newFixture() *fixture {
	e := keychain.NewMemoryEngine()
	return &fixture{engine: e, registry: keychain.NewRegistry(e)}
}

// open creates an unlocked keychain at /tmp/cursor/<name>.
func (f *fixture) open(t *testing.T, name string) *keychain.Handle {
	t.Helper()
	h := f.registry.HandleFor(keychain.PathID("/tmp/cursor/" + name))
	if err := h.Create(nil); err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return h
}

func addPassword(t *testing.T, h *keychain.Handle, account, service string) *keychain.Item {
	t.Helper()
	it := keychain.NewItem(keychain.RecordGenericPassword)
	it.SetAttr(keychain.AttrAccount, []byte(account))
	it.SetAttr(keychain.AttrService, []byte(service))
	if err := h.AddItem(it); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	return it
}

func collect(t *testing.T, c *Cursor) []*keychain.Item {
	t.Helper()
	var items []*keychain.Item
	for {
		it, ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return items
		}
		items = append(items, it)
	}
}

func TestCursorWalksInOrder(t *testing.T) {
	f := newFixture()
	a, b := f.open(t, "a"), f.open(t, "b")
	addPassword(t, b, "bob", "mail")
	addPassword(t, a, "alice", "mail")

	c := New([]*keychain.Handle{a, b}, keychain.RecordGenericPassword)
	items := collect(t, c)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Keychain() != a || items[1].Keychain() != b {
		t.Error("expected results in search list order")
	}
}

func TestCursorFallback(t *testing.T) {
	f := newFixture()
	x := f.registry.HandleFor(keychain.PathID("/tmp/cursor/missing"))
	y := f.open(t, "empty")
	z := f.open(t, "full")
	want := addPassword(t, z, "carol", "mail")

	c := New([]*keychain.Handle{x, y, z}, keychain.RecordGenericPassword)
	got, ok, err := c.Next()
	if err != nil {
		t.Fatalf("expected missing keychain to be skipped, got %v", err)
	}
	if !ok || got != want {
		t.Fatalf("expected the record from the last keychain, got %v %v", got, ok)
	}
	if _, ok, err := c.Next(); ok || err != nil {
		t.Errorf("expected clean end, got ok=%v err=%v", ok, err)
	}
}

func TestCursorAllFailed(t *testing.T) {
	f := newFixture()
	x := f.open(t, "x")
	y := f.open(t, "y")
	e1, e2 := errors.New("e1"), errors.New("e2")
	f.engine.FailSearch(x.ID(), e1)
	f.engine.FailNext(y.ID(), e2)

	c := New([]*keychain.Handle{x, y}, keychain.RecordAny)
	_, ok, err := c.Next()
	if ok {
		t.Fatal("expected no record")
	}
	if !errors.Is(err, e1) && !errors.Is(err, e2) {
		t.Errorf("expected a recorded failure, got %v", err)
	}
	if errors.Is(err, keychain.ErrNotFound) {
		t.Error("expected all-failed search not to look like not-found")
	}
}

func TestCursorSomeFailedNoMatchIsEnd(t *testing.T) {
	f := newFixture()
	x := f.open(t, "x")
	y := f.open(t, "y")
	f.engine.FailSearch(x.ID(), errors.New("broken"))

	c := New([]*keychain.Handle{x, y}, keychain.RecordAny)
	if _, ok, err := c.Next(); ok || err != nil {
		t.Errorf("expected clean end, got ok=%v err=%v", ok, err)
	}
}

func TestCursorEmptyList(t *testing.T) {
	c := New(nil, keychain.RecordAny)
	if _, ok, err := c.Next(); ok || err != nil {
		t.Errorf("expected clean end, got ok=%v err=%v", ok, err)
	}
}

func TestCursorAnySkipsInternalKinds(t *testing.T) {
	f := newFixture()
	h := f.open(t, "kinds")
	for _, kind := range []keychain.RecordType{keychain.RecordDBBlob, keychain.RecordSymmetricKey, keychain.RecordCertificate} {
		if err := h.AddItem(keychain.NewItem(kind)); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}

	items := collect(t, New([]*keychain.Handle{h}, keychain.RecordAny))
	if len(items) != 1 || items[0].Type() != keychain.RecordCertificate {
		t.Errorf("expected only the certificate, got %d items", len(items))
	}

	items = collect(t, New([]*keychain.Handle{h}, keychain.RecordSymmetricKey))
	if len(items) != 1 {
		t.Errorf("expected explicit symmetric key search to match, got %d", len(items))
	}
}

func TestCursorPredicates(t *testing.T) {
	f := newFixture()
	h := f.open(t, "preds")
	addPassword(t, h, "alice", "mail")
	addPassword(t, h, "bob", "chat")
	addPassword(t, h, "alice", "chat")

	c := New([]*keychain.Handle{h}, keychain.RecordGenericPassword)
	c.Add(keychain.Predicate{Attr: keychain.AttrAccount, Op: keychain.OpEqual, Value: []byte("alice")})
	c.Add(keychain.Predicate{Attr: keychain.AttrService, Op: keychain.OpEqual, Value: []byte("chat")})
	if got := collect(t, c); len(got) != 1 {
		t.Errorf("AND: expected 1 match, got %d", len(got))
	}

	c = New([]*keychain.Handle{h}, keychain.RecordGenericPassword)
	c.SetConjunction(keychain.Or)
	c.Add(keychain.Predicate{Attr: keychain.AttrAccount, Op: keychain.OpEqual, Value: []byte("bob")})
	c.Add(keychain.Predicate{Attr: keychain.AttrService, Op: keychain.OpEqual, Value: []byte("mail")})
	if got := collect(t, c); len(got) != 2 {
		t.Errorf("OR: expected 2 matches, got %d", len(got))
	}
}

func TestCursorAddAfterStart(t *testing.T) {
	c := New(nil, keychain.RecordAny)
	c.Next()
	if err := c.Add(keychain.Predicate{Attr: keychain.AttrLabel}); !errors.Is(err, ErrStarted) {
		t.Errorf("expected ErrStarted, got %v", err)
	}
	if err := c.SetConjunction(keychain.Or); !errors.Is(err, ErrStarted) {
		t.Errorf("expected ErrStarted, got %v", err)
	}
}

func TestCursorReturnsCanonicalItem(t *testing.T) {
	f := newFixture()
	h := f.open(t, "canon")
	it := addPassword(t, h, "dave", "mail")

	got := collect(t, New([]*keychain.Handle{h}, keychain.RecordGenericPassword))
	if len(got) != 1 || got[0] != it {
		t.Error("expected the cursor to return the live item")
	}
}

func TestNewFromAttributes(t *testing.T) {
	f := newFixture()
	h := f.open(t, "attrs")
	addPassword(t, h, "erin", "mail")
	cert := keychain.NewItem(keychain.RecordCertificate)
	cert.SetAttr(keychain.AttrAccount, []byte("erin"))
	h.AddItem(cert)

	c, err := NewFromAttributes([]*keychain.Handle{h}, []keychain.Attribute{
		keychain.ClassAttribute(keychain.RecordCertificate),
		{Tag: keychain.AttrAccount, Value: []byte("erin")},
	})
	if err != nil {
		t.Fatalf("NewFromAttributes: %v", err)
	}
	if c.Kind() != keychain.RecordCertificate {
		t.Errorf("expected class to select certificate, got %v", c.Kind())
	}
	got := collect(t, c)
	if len(got) != 1 || got[0] != cert {
		t.Errorf("expected only the certificate, got %d items", len(got))
	}

	_, err = NewFromAttributes(nil, []keychain.Attribute{
		keychain.ClassAttribute(keychain.RecordCertificate),
		keychain.ClassAttribute(keychain.RecordGenericPassword),
	})
	if !errors.Is(err, keychain.ErrConflict) {
		t.Errorf("expected ErrConflict for two class attributes, got %v", err)
	}

	_, err = NewFromAttributes(nil, []keychain.Attribute{{Tag: keychain.AttrClass, Value: []byte{1}}})
	if !errors.Is(err, keychain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for short class, got %v", err)
	}
}

func TestNewFromAttributesNormalizesTime(t *testing.T) {
	c, err := NewFromAttributes(nil, []keychain.Attribute{
		{Tag: keychain.AttrModDate, Value: keychain.Uint32Value(60)},
	})
	if err != nil {
		t.Fatalf("NewFromAttributes: %v", err)
	}
	q := c.Query()
	want := keychain.TimeValue(time.Date(1904, 1, 1, 0, 1, 0, 0, time.UTC))
	if len(q.Predicates) != 1 || string(q.Predicates[0].Value) != string(want) {
		t.Errorf("expected normalised time predicate, got %+v", q.Predicates)
	}
}

func TestCursorClose(t *testing.T) {
	f := newFixture()
	h := f.open(t, "close")
	addPassword(t, h, "a", "s")
	addPassword(t, h, "b", "s")

	c := New([]*keychain.Handle{h}, keychain.RecordAny)
	if _, ok, _ := c.Next(); !ok {
		t.Fatal("expected a first record")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok, err := c.Next(); ok || err != nil {
		t.Errorf("expected closed cursor to report end, got ok=%v err=%v", ok, err)
	}
}
