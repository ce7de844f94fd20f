//go:build unix

package storage

import "golang.org/x/sys/unix"

// privileged reports whether the process runs with an effective uid of 0.
func privileged() bool {
	return unix.Geteuid() == 0
}

// Privileged is exported for callers gating system-wide writes.
func Privileged() bool { return privileged() }
