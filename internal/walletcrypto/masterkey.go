package walletcrypto

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/argon2"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// KeyDerivationMethod selects how a passphrase is turned into a Master Key.
type KeyDerivationMethod int

const (
	// Raw treats the passphrase as a base58-encoded 32-byte key directly.
	Raw KeyDerivationMethod = iota
	// Argon2iMod derives the key with Argon2i at "moderate" cost.
	Argon2iMod
	// Argon2iInt derives the key with Argon2i at "interactive" cost.
	Argon2iInt
)

// MasterKeyLen is the fixed size, in bytes, of a Master Key.
const MasterKeyLen = 32

// SaltLen is the fixed size, in bytes, of the Argon2i salt.
const SaltLen = 32

// Argon2i cost parameters. "Moderate" favors security over latency;
// "interactive" favors latency for callers that derive on a UI thread.
const (
	argonModTime    = 3
	argonModMemory  = 256 * 1024 // KiB
	argonIntTime    = 1
	argonIntMemory  = 64 * 1024 // KiB
	argonThreads    = 4
	argonKeyLen     = MasterKeyLen
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

//nolint:gochecknoglobals // lookup table populated once at init
var base58AlphabetMap = make(map[rune]int, len(base58Alphabet))

//nolint:gochecknoinits // required to populate the base58 decode table
func init() {
	for i, c := range base58Alphabet {
		base58AlphabetMap[c] = i
	}
}

// DeriveMasterKey derives a 32-byte Master Key from a passphrase.
// Deterministic for Raw; deterministic modulo salt for the Argon methods.
// Pure compute: no I/O, suitable for running off the service's task pool.
func DeriveMasterKey(passphrase string, method KeyDerivationMethod, salt []byte) (*SecureBytes, error) {
	switch method {
	case Raw:
		return deriveRawMasterKey(passphrase)
	case Argon2iMod:
		return deriveArgonMasterKey(passphrase, salt, argonModTime, argonModMemory)
	case Argon2iInt:
		return deriveArgonMasterKey(passphrase, salt, argonIntTime, argonIntMemory)
	default:
		return nil, walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{
			"key_derivation_method": fmt.Sprintf("%d", method),
		})
	}
}

func deriveRawMasterKey(passphrase string) (*SecureBytes, error) {
	decoded, err := base58Decode(passphrase)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrWalletAccessFailed, "decoding raw key: %v", err)
	}
	if len(decoded) != MasterKeyLen {
		return nil, walleterr.WithDetails(walleterr.ErrWalletAccessFailed, map[string]string{
			"expected_len": fmt.Sprintf("%d", MasterKeyLen),
			"actual_len":   fmt.Sprintf("%d", len(decoded)),
		})
	}

	sb, err := SecureBytesFromSlice(decoded)
	for i := range decoded {
		decoded[i] = 0
	}
	if err != nil {
		return nil, err
	}
	return sb, nil
}

func deriveArgonMasterKey(passphrase string, salt []byte, timeCost, memCost uint32) (*SecureBytes, error) {
	if len(salt) != SaltLen {
		return nil, walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{
			"expected_salt_len": fmt.Sprintf("%d", SaltLen),
			"actual_salt_len":   fmt.Sprintf("%d", len(salt)),
		})
	}

	key := argon2.Key([]byte(passphrase), salt, timeCost, memCost, argonThreads, argonKeyLen)
	sb, err := SecureBytesFromSlice(key)
	for i := range key {
		key[i] = 0
	}
	if err != nil {
		return nil, err
	}
	return sb, nil
}

// NewSalt generates a fresh random Argon2i salt.
func NewSalt() ([]byte, error) {
	return RandomBytes(SaltLen)
}

// base58Decode decodes a base58 string to bytes, without a checksum —
// the Raw key-derivation method treats the whole decoded payload as the key.
func base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty base58 string")
	}

	leadingOnes := 0
	for _, c := range s {
		if c == '1' {
			leadingOnes++
		} else {
			break
		}
	}

	result := big.NewInt(0)
	base := big.NewInt(58)

	for _, c := range s {
		value, ok := base58AlphabetMap[c]
		if !ok {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		result.Mul(result, base)
		result.Add(result, big.NewInt(int64(value)))
	}

	decoded := result.Bytes()
	output := make([]byte, leadingOnes+len(decoded))
	copy(output[leadingOnes:], decoded)

	return output, nil
}
