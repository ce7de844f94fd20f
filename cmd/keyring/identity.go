package main

import (
	"fmt"

	"github.com/benaskins/keyring/internal/cursor"
	"github.com/benaskins/keyring/internal/identity"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/spf13/cobra"
)

var (
	identityUsage     uint32
	identityCertLabel string
	identityUnlock    bool
	identityClear     bool
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage identity preferences",
}

var identityGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show the identity preferred for a name or URL",
	Long:  "Resolve the identity preference for a name. URLs fall back to their parent paths, so https://host/a/b matches a preference set for https://host/a/.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("cli", func(a *app) error {
			if identityUnlock {
				if err := unlockSearchList(a); err != nil {
					return err
				}
			}
			id, err := a.resolver.Preference(args[0], identityUsage, nil)
			if err != nil {
				return err
			}
			return printIdentity(id)
		})
	},
}

var identitySetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Prefer the certificate with the given label for a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if identityCertLabel == "" {
			return fmt.Errorf("%w: --cert-label is required", keychain.ErrInvalidArgument)
		}
		return withApp("cli", func(a *app) error {
			if identityUnlock {
				if err := unlockSearchList(a); err != nil {
					return err
				}
			}
			id, err := identityByLabel(a, identityCertLabel)
			if err != nil {
				return err
			}
			if err := a.resolver.SetPreference(id, args[0], identityUsage); err != nil {
				return err
			}
			fmt.Printf("Identity %q preferred for %s\n", identityCertLabel, args[0])
			return nil
		})
	},
}

var identitySystemCmd = &cobra.Command{
	Use:   "system [domain]",
	Short: "Show or set a system identity",
	Long:  "Show the system identity for a domain (default " + identity.DomainDefault + "). With --cert-label or --clear the entry is changed, which requires root.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := identity.DomainDefault
		if len(args) == 1 {
			domain = args[0]
		}
		return withApp("cli", func(a *app) error {
			switch {
			case identityClear:
				if err := a.system.SetIdentity(domain, nil); err != nil {
					return err
				}
				fmt.Printf("System identity for %s removed\n", domain)
				return nil
			case identityCertLabel != "":
				id, err := identityByLabel(a, identityCertLabel)
				if err != nil {
					return err
				}
				if err := a.system.SetIdentity(domain, id); err != nil {
					return err
				}
				fmt.Printf("System identity for %s set to %q\n", domain, identityCertLabel)
				return nil
			}
			id, used, err := a.system.Identity(domain)
			if err != nil {
				return err
			}
			if used != domain {
				fmt.Printf("(falling back to %s)\n", used)
			}
			return printIdentity(id)
		})
	},
}

// identityByLabel finds the first certificate in the search list with the
// given label.
func identityByLabel(a *app, label string) (*identity.Identity, error) {
	handles, err := a.manager.SearchList()
	if err != nil {
		return nil, err
	}
	c := cursor.New(handles, keychain.RecordCertificate)
	defer c.Close()
	if err := c.Add(keychain.Predicate{Attr: keychain.AttrLabel, Op: keychain.OpEqual, Value: []byte(label)}); err != nil {
		return nil, err
	}
	it, ok, err := c.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no certificate labelled %q", keychain.ErrNotFound, label)
	}
	cert, err := identity.NewItemCertificate(it)
	if err != nil {
		return nil, err
	}
	return identity.New(cert, handles), nil
}

func printIdentity(id *identity.Identity) error {
	label, err := id.Certificate().Label()
	if err != nil {
		return err
	}
	fmt.Println(label)
	if key, err := id.PrivateKey(); err == nil {
		fmt.Println(styleDim.Render("private key in " + key.Keychain().ID().Name))
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{identityGetCmd, identitySetCmd} {
		c.Flags().Uint32Var(&identityUsage, "usage", 0, "Key usage bits (0 matches any)")
		c.Flags().BoolVar(&identityUnlock, "unlock", false, "Prompt to unlock locked keychains first")
	}
	identitySetCmd.Flags().StringVar(&identityCertLabel, "cert-label", "", "Label of the certificate to prefer")
	identitySystemCmd.Flags().StringVar(&identityCertLabel, "cert-label", "", "Label of the certificate to record")
	identitySystemCmd.Flags().BoolVar(&identityClear, "clear", false, "Remove the entry")

	identityCmd.AddCommand(identityGetCmd)
	identityCmd.AddCommand(identitySetCmd)
	identityCmd.AddCommand(identitySystemCmd)
	rootCmd.AddCommand(identityCmd)
}
