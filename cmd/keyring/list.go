package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
	"github.com/benaskins/keyring/internal/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	listScope  string
	listStatus bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "Show the keychain search list",
	Long:    "Show the merged search list, or one scope's own list with --scope. The default keychain is marked * and the login keychain L.",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			return runList(cmd, a)
		})
	},
}

func runList(cmd *cobra.Command, a *app) error {
	m := a.manager
	var (
		handles []*keychain.Handle
		err     error
	)
	if listScope != "" {
		s, perr := searchlist.ParseScope(listScope)
		if perr != nil {
			return perr
		}
		handles, err = m.DomainSearchList(s)
	} else {
		handles, err = m.SearchList()
	}
	if err != nil {
		return err
	}
	if len(handles) == 0 {
		fmt.Println("Search list is empty")
		return nil
	}

	var defaultID, loginID keychain.ID
	if h, err := m.DefaultKeychain(); err == nil {
		defaultID = h.ID()
	}
	if h, err := m.LoginKeychain(); err == nil {
		loginID = h.ID()
	}

	var statuses []storage.Status
	if listStatus {
		statuses, err = m.Probe(cmd.Context(), handles)
		if err != nil {
			return err
		}
	}

	width := len("KEYCHAIN")
	for _, h := range handles {
		width = max(width, len(h.ID().Name))
	}
	nameCol := lipgloss.NewStyle().Width(width + 2)

	header := styleTagWidth.Render("") + nameCol.Render("KEYCHAIN")
	if listStatus {
		header += "STATUS"
	}
	fmt.Println(styleHeader.Render(header))
	for i, h := range handles {
		line := markers(h.ID() == defaultID, h.ID() == loginID) + nameCol.Render(h.ID().Name)
		if listStatus {
			line += statusText(statuses[i])
		}
		fmt.Println(line)
	}
	fmt.Println(styleDim.Render(fmt.Sprintf("scope: %s", m.Scope())))
	return nil
}

func statusText(st storage.Status) string {
	switch {
	case st.Err != nil:
		return styleMissing.Render(st.Err.Error())
	case !st.Exists:
		return styleMissing.Render("missing")
	case st.Locked:
		return styleLocked.Render("locked")
	default:
		return "unlocked"
	}
}

var defaultCmd = &cobra.Command{
	Use:   "default [path]",
	Short: "Show or set the default keychain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			if len(args) == 0 {
				h, err := a.manager.DefaultKeychain()
				if err != nil {
					return err
				}
				fmt.Println(h.ID().Name)
				return nil
			}
			h, err := a.manager.Make(args[0], false)
			if err != nil {
				return err
			}
			if err := a.manager.SetDefaultKeychain(h); err != nil {
				return err
			}
			fmt.Printf("Default keychain set to %s\n", h.ID().Name)
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add an existing keychain to the search list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			h, err := a.manager.Make(args[0], true)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s\n", h.ID().Name)
			return nil
		})
	},
}

var removeDelete bool

var removeCmd = &cobra.Command{
	Use:     "remove <path>...",
	Short:   "Remove keychains from the search list",
	Long:    "Remove keychains from the search list. With --delete the keychain files are deleted as well.",
	Aliases: []string{"rm"},
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			handles, err := a.handles(args)
			if err != nil {
				return err
			}
			if err := a.manager.Remove(handles, removeDelete); err != nil {
				return err
			}
			verb := "Removed"
			if removeDelete {
				verb = "Deleted"
			}
			for _, h := range handles {
				fmt.Printf("%s %s\n", verb, h.ID().Name)
			}
			return nil
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <path> <name>",
	Short: "Rename a keychain in place",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			h, err := a.manager.Make(args[0], false)
			if err != nil {
				return err
			}
			if err := a.manager.Rename(h, args[1]); err != nil {
				return err
			}
			fmt.Printf("Renamed to %s\n", h.ID().Name)
			return nil
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a keychain and add it to the search list",
	Long:  "Create a keychain. The passphrase is read from the terminal, or from stdin when piped. A new keychain becomes the default when none is set.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			h, err := a.manager.Make(args[0], false)
			if err != nil {
				return err
			}
			secret, err := readNewSecret(fmt.Sprintf("Passphrase for %s: ", h.ID().Name))
			if err != nil {
				return err
			}
			if err := a.manager.Create(h, secret); err != nil {
				return err
			}
			fmt.Printf("Created %s\n", h.ID().Name)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Unlock the login keychain, creating it if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			name, err := a.manager.UserName()
			if err != nil {
				return err
			}
			secret, err := readSecret(fmt.Sprintf("Login passphrase for %s: ", name))
			if err != nil {
				return err
			}
			if err := a.manager.Login(name, secret); err != nil {
				return err
			}
			h, err := a.manager.LoginKeychain()
			if err != nil {
				return err
			}
			fmt.Printf("Login keychain %s unlocked\n", h.ID().Name)
			return nil
		})
	},
}

var resetList bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Move the login keychain aside and create a new one",
	Long:  "Move the current login keychain aside under a unique name, then create and unlock a fresh login keychain and make it the default.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			if !resetList {
				h, err := a.manager.CreateLoginInteractively(nil)
				if err != nil {
					return err
				}
				fmt.Printf("New login keychain %s\n", h.ID().Name)
				return nil
			}
			a.manager.ResetKeychain(true)
			fmt.Println("Search list cleared and login keychain moved aside")
			return nil
		})
	},
}

// unlockSearchList prompts for the passphrase of every locked keychain in
// the merged search list. Keychains that fail to unlock stay locked and
// are skipped by searches.
func unlockSearchList(a *app) error {
	handles, err := a.manager.SearchList()
	if err != nil {
		return err
	}
	for _, h := range handles {
		if ok, err := h.Exists(); err != nil || !ok || !h.IsLocked() {
			continue
		}
		secret, err := readSecret(fmt.Sprintf("Passphrase for %s: ", h.ID().Name))
		if err != nil {
			return err
		}
		if err := h.Unlock(secret); err != nil {
			if errors.Is(err, keychain.ErrAuthFailed) {
				fmt.Fprintf(os.Stderr, "%s: wrong passphrase, skipping\n", h.ID().Name)
				continue
			}
			return err
		}
	}
	return nil
}

func init() {
	listCmd.Flags().StringVar(&listScope, "scope", "", "Show one scope's list: user, system, common or dynamic")
	listCmd.Flags().BoolVar(&listStatus, "status", false, "Probe existence and lock state")
	removeCmd.Flags().BoolVar(&removeDelete, "delete", false, "Also delete the keychain files")
	resetCmd.Flags().BoolVar(&resetList, "clear-list", false, "Clear the search list and only move the login keychain aside")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(defaultCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(resetCmd)
}
