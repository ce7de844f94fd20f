package keychain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FileModule identifies keychains stored as files on local disk.
	FileModule = "file"

	// PlatformModule identifies the operating system's own keychain.
	PlatformModule = "platform"

	// Suffix is the conventional keychain file extension.
	Suffix = ".keychain"
)

// ServiceType is a bitmask of the services a module provides.
type ServiceType uint32

const (
	ServiceDL  ServiceType = 1 << 0 // data library (record storage)
	ServiceCSP ServiceType = 1 << 1 // cryptographic service provider
)

// Version is a module interface version.
type Version struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// ID identifies one credential database. IDs are comparable with == and are
// safe to use as map keys; constructors normalise Name so that two IDs that
// refer to the same file compare equal.
type ID struct {
	Module       string      `json:"module"`
	SubserviceID uint32      `json:"subservice_id,omitempty"`
	ServiceType  ServiceType `json:"service_type"`
	Version      Version     `json:"version"`
	Name         string      `json:"name"`
	Location     string      `json:"location,omitempty"`
}

// NewID builds a normalised identifier.
func NewID(module string, serviceType ServiceType, name string) ID {
	return ID{
		Module:      module,
		ServiceType: serviceType,
		Name:        normalizeName(module, name),
	}
}

// PathID returns the identifier of a file keychain at path.
func PathID(path string) ID {
	return NewID(FileModule, ServiceDL|ServiceCSP, path)
}

// Normalize returns id with its Name normalised. Identifiers decoded from
// persisted lists go through this before use.
func (id ID) Normalize() ID {
	id.Name = normalizeName(id.Module, id.Name)
	return id
}

// IsZero reports whether id is the empty identifier.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	if id.Location != "" {
		return fmt.Sprintf("%s:%s@%s", id.Module, id.Name, id.Location)
	}
	return id.Module + ":" + id.Name
}

// ParseID parses the String form ("module:name"). A bare path is taken as a
// file keychain.
func ParseID(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("%w: empty keychain identifier", ErrInvalidArgument)
	}
	module, name, ok := strings.Cut(s, ":")
	if !ok || strings.ContainsAny(module, "/~.") {
		return PathID(s), nil
	}
	if name == "" {
		return ID{}, fmt.Errorf("%w: keychain identifier %q has no name", ErrInvalidArgument, s)
	}
	if module == FileModule {
		return PathID(name), nil
	}
	return NewID(module, ServiceDL, name), nil
}

// ExpandTilde replaces a leading "~" with the user's home directory.
func ExpandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func normalizeName(module, name string) string {
	if module != FileModule || name == "" {
		return name
	}
	name = ExpandTilde(name)
	if abs, err := filepath.Abs(name); err == nil {
		name = abs
	}
	return filepath.Clean(name)
}
