package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/storage"
	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

// readSecret reads a passphrase from the terminal without echo, or a single
// line from stdin when it is not a terminal (useful for piping).
func readSecret(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		return b, nil
	}
	line, err := stdin.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// readNewSecret asks twice on a terminal and insists both entries match.
func readNewSecret(prompt string) ([]byte, error) {
	secret, err := readSecret(prompt)
	if err != nil {
		return nil, err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return secret, nil
	}
	again, err := readSecret("Confirm: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(secret, again) {
		return nil, errors.New("passphrases do not match")
	}
	return secret, nil
}

// terminalPrompter asks for a new login keychain passphrase on the
// controlling terminal.
type terminalPrompter struct{}

func (terminalPrompter) PromptLoginSecret(h storage.LoginHints) ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, keychain.ErrInteractionNotAllowed
	}
	switch {
	case h.DefaultUnavailable && h.DefaultKeychain != "":
		fmt.Fprintf(os.Stderr, "The default keychain %s could not be found.\n", h.DefaultKeychain)
	case h.Account != "":
		fmt.Fprintf(os.Stderr, "A keychain is needed to save the password for %s.\n", h.Account)
	}
	if h.HasOtherKeychains && !h.SuppressResetPanel {
		fmt.Fprintln(os.Stderr, "Creating a new login keychain hides the keychains currently in the search list.")
	}
	return readNewSecret(fmt.Sprintf("New login keychain passphrase for %s: ", h.UserName))
}
