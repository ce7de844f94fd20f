package keychain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathIDNormalizes(t *testing.T) {
	a := PathID("/tmp/keyring/../keyring/login.keychain")
	b := PathID("/tmp/keyring/login.keychain")
	if a != b {
		t.Errorf("expected equal IDs, got %v and %v", a, b)
	}
	if a.Module != FileModule {
		t.Errorf("expected file module, got %q", a.Module)
	}
}

func TestPathIDExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	id := PathID("~/Library/Keychains/login.keychain")
	want := filepath.Join(home, "Library/Keychains/login.keychain")
	if id.Name != want {
		t.Errorf("expected %q, got %q", want, id.Name)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{"/tmp/a.keychain", PathID("/tmp/a.keychain")},
		{"file:/tmp/a.keychain", PathID("/tmp/a.keychain")},
		{"platform:com.example", NewID(PlatformModule, ServiceDL, "com.example")},
	}
	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if err != nil {
			t.Errorf("ParseID(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseID(""); err == nil {
		t.Error("expected error for empty identifier")
	}
	if _, err := ParseID("platform:"); err == nil {
		t.Error("expected error for identifier without name")
	}
}

func TestIDStringRoundTrip(t *testing.T) {
	id := PathID("/tmp/x.keychain")
	got, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if got != id {
		t.Errorf("expected %v, got %v", id, got)
	}
	if (ID{}).String() != "<none>" {
		t.Errorf("unexpected zero string %q", ID{}.String())
	}
}
