//go:build !unix

package storage

func privileged() bool { return false }

// Privileged is exported for callers gating system-wide writes.
func Privileged() bool { return false }
