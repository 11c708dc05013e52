package main

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// promptPassword prompts for a passphrase with hidden input. The caller
// is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	out(os.Stderr, "%s", prompt)

	passphrase, err := term.ReadPassword(syscall.Stdin)
	outln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}

	return passphrase, nil
}

// promptNewPassphrase prompts for a new passphrase with confirmation,
// using the default "Enter wallet passphrase" label.
func promptNewPassphrase() ([]byte, error) {
	return promptNewPassphraseLabeled("Enter wallet passphrase: ")
}

// promptNewPassphraseLabeled prompts for a new passphrase with
// confirmation under a caller-supplied label (e.g. for an export
// archive's passphrase, distinct from the wallet's own). The caller is
// responsible for zeroing the returned bytes after use.
func promptNewPassphraseLabeled(label string) ([]byte, error) {
	passphrase, err := promptPassword(label)
	if err != nil {
		return nil, err
	}

	if len(passphrase) < 8 {
		walletcrypto.ZeroBytes(passphrase)
		return nil, walleterr.WithSuggestion(
			walleterr.New("INVALID_INPUT", "passphrase too short"),
			"passphrase must be at least 8 characters",
		)
	}

	confirm, err := promptPassword("Confirm passphrase: ")
	if err != nil {
		walletcrypto.ZeroBytes(passphrase)
		return nil, err
	}
	defer walletcrypto.ZeroBytes(confirm)

	if string(passphrase) != string(confirm) {
		walletcrypto.ZeroBytes(passphrase)
		return nil, walleterr.WithSuggestion(
			walleterr.New("INVALID_INPUT", "passphrases do not match"),
			"retype both prompts identically",
		)
	}

	return passphrase, nil
}
