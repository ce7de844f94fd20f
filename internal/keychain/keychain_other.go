//go:build !darwin

package keychain

// NewPlatformEngine returns a MemoryEngine on non-darwin platforms.
// The macOS Keychain is not available outside of macOS; platform keychain
// records are held in memory only and will not persist across restarts.
func NewPlatformEngine() Engine {
	return NewMemoryEngine()
}
