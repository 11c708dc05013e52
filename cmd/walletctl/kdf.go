package main

import (
	"strings"

	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// parseKDFMethod maps the --kdf flag's string value to a
// walletcrypto.KeyDerivationMethod, using the same vocabulary as
// internal/config's SIGILVAULT_KDF_METHOD environment override.
func parseKDFMethod(s string) (walletcrypto.KeyDerivationMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "argon2i_mod":
		return walletcrypto.Argon2iMod, nil
	case "argon2i_int":
		return walletcrypto.Argon2iInt, nil
	case "raw":
		return walletcrypto.Raw, nil
	default:
		return 0, walleterr.WithSuggestion(
			walleterr.New("INVALID_INPUT", "unrecognized derivation method"),
			"use one of: raw, argon2i_mod, argon2i_int",
		)
	}
}
