package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/benaskins/keyring/internal/cursor"
	"github.com/benaskins/keyring/internal/keychain"
	"github.com/spf13/cobra"
)

var (
	findKind   string
	findAttrs  []string
	findUnlock bool
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Search every keychain in the search list",
	Long:  "Search the merged search list for records. Attributes are four character tags, e.g. --attr acct=alice --attr svce=mail.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs, err := parseAttrs(findAttrs)
		if err != nil {
			return err
		}
		return withApp("cli", func(a *app) error {
			if findUnlock {
				if err := unlockSearchList(a); err != nil {
					return err
				}
			}

			var c *cursor.Cursor
			if findKind == "" || findKind == keychain.RecordAny.String() {
				c, err = a.manager.CreateAnyCursor(attrs)
			} else {
				kind, perr := keychain.ParseRecordType(findKind)
				if perr != nil {
					return perr
				}
				c, err = a.manager.CreateCursor(kind, attrs)
			}
			if err != nil {
				return err
			}
			defer c.Close()
			return printItems(c)
		})
	},
}

func printItems(c *cursor.Cursor) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEYCHAIN\tKIND\tLABEL\tACCOUNT\tSERVICE")
	n := 0
	for {
		it, ok, err := c.Next()
		if err != nil {
			w.Flush()
			return err
		}
		if !ok {
			break
		}
		n++
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			it.Keychain().ID().Name, it.Type(),
			attrText(it, keychain.AttrLabel),
			attrText(it, keychain.AttrAccount),
			attrText(it, keychain.AttrService))
	}
	w.Flush()
	if n == 0 {
		fmt.Println("No matching items")
	}
	return nil
}

func attrText(it *keychain.Item, tag keychain.Attr) string {
	v, ok := it.Attr(tag)
	if !ok || len(v) == 0 {
		return "-"
	}
	return string(v)
}

// parseAttrs turns tag=value flags into attributes. Values are taken as
// raw bytes.
func parseAttrs(flags []string) ([]keychain.Attribute, error) {
	attrs := make([]keychain.Attribute, 0, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("%w: attribute %q is not tag=value", keychain.ErrInvalidArgument, f)
		}
		tag, err := keychain.ParseAttr(k)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, keychain.Attribute{Tag: tag, Value: []byte(v)})
	}
	return attrs, nil
}

func init() {
	findCmd.Flags().StringVar(&findKind, "kind", "", "Record kind, e.g. generic-password, certificate (default any)")
	findCmd.Flags().StringArrayVar(&findAttrs, "attr", nil, "Attribute match tag=value (repeatable)")
	findCmd.Flags().BoolVar(&findUnlock, "unlock", false, "Prompt to unlock locked keychains first")
	rootCmd.AddCommand(findCmd)
}
