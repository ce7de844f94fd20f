package storage

import (
	"path/filepath"

	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
)

// SystemKeychainName is the file name of the system keychain.
const SystemKeychainName = "System" + keychain.Suffix

// FileStores returns the persisted stores for User, System and Common under
// prefsDir plus a Dynamic store holding dynamic. A scope whose file does
// not exist yet reads as its conventional contents: the login keychain for
// User and the system keychain for System.
func FileStores(prefsDir string, dirs map[searchlist.Scope]string, dynamic []keychain.ID) map[searchlist.Scope]searchlist.Store {
	var userSeed, systemSeed searchlist.Contents
	if dir := dirs[searchlist.User]; dir != "" {
		login := keychain.PathID(filepath.Join(dir, LoginKeychainName))
		userSeed = searchlist.Contents{
			SearchList: []keychain.ID{login},
			Default:    login,
			Login:      login,
		}
	}
	if dir := dirs[searchlist.System]; dir != "" {
		system := keychain.PathID(filepath.Join(dir, SystemKeychainName))
		systemSeed = searchlist.Contents{
			SearchList: []keychain.ID{system},
			Default:    system,
		}
	}

	return map[searchlist.Scope]searchlist.Store{
		searchlist.User:    searchlist.NewFileStore(searchlist.User, prefsDir, userSeed),
		searchlist.System:  searchlist.NewFileStore(searchlist.System, prefsDir, systemSeed),
		searchlist.Common:  searchlist.NewFileStore(searchlist.Common, prefsDir, searchlist.Contents{}),
		searchlist.Dynamic: searchlist.NewMemoryStore(searchlist.Dynamic, dynamic...),
	}
}
