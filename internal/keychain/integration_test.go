//go:build integration && darwin

package keychain

import (
	"errors"
	"testing"
)

// Integration tests use real macOS Keychain.
// Run with: go test -tags integration ./internal/keychain/
//
// Requires an unlocked login Keychain and an interactive session
// (first run may prompt for Keychain access approval).

func integrationDatabase() Database {
	return NewPlatformEngine().Open(NewID(PlatformModule, ServiceDL, "com.keyring.test"))
}

func cleanupIntegration(t *testing.T, db Database, accounts ...string) {
	t.Helper()
	for _, a := range accounts {
		db.DeleteRecord(RecordGenericPassword, a)
	}
}

func TestPlatformInsertAndFetch(t *testing.T) {
	db := integrationDatabase()
	acct := "test/integration-insert"
	defer cleanupIntegration(t, db, acct)

	rec := genericPassword(acct, "com.keyring.test", "hello-keychain")
	if err := db.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rec.UniqueID != acct {
		t.Errorf("expected account as unique ID, got %q", rec.UniqueID)
	}

	got, err := db.Fetch(RecordGenericPassword, acct)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got.Data) != "hello-keychain" {
		t.Errorf("expected 'hello-keychain', got %q", got.Data)
	}
}

func TestPlatformSearch(t *testing.T) {
	db := integrationDatabase()
	acct := "test/integration-search"
	defer cleanupIntegration(t, db, acct)

	db.Insert(genericPassword(acct, "com.keyring.test", "v"))

	q := Query{RecordType: RecordGenericPassword, Predicates: []Predicate{
		{AttrAccount, OpEqual, []byte(acct)},
	}}
	cur, err := db.Search(q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	defer cur.Close()

	rec, ok, err := cur.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if string(rec.Data) != "v" {
		t.Errorf("expected 'v', got %q", rec.Data)
	}
}

func TestPlatformUpdateOverwrites(t *testing.T) {
	db := integrationDatabase()
	acct := "test/integration-update"
	defer cleanupIntegration(t, db, acct)

	rec := genericPassword(acct, "com.keyring.test", "first")
	db.Insert(rec)
	rec.Data = []byte("second")
	if err := db.Update(*rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := db.Fetch(RecordGenericPassword, acct)
	if string(got.Data) != "second" {
		t.Errorf("expected 'second', got %q", got.Data)
	}
}

func TestPlatformDeleteMissing(t *testing.T) {
	db := integrationDatabase()
	err := db.DeleteRecord(RecordGenericPassword, "test/never-existed")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
