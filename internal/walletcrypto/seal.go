package walletcrypto

import (
	"golang.org/x/crypto/chacha20poly1305"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// SealKeys encrypts a Keys bundle under the Master Key using
// ChaCha20-Poly1305 IETF with a random nonce, so Metadata never holds
// key material in plaintext.
func SealKeys(keys *Keys, masterKey *SecureBytes) ([]byte, error) {
	aead, err := chacha20poly1305.New(masterKey.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrEncryption, "constructing AEAD: %v", err)
	}

	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, walleterr.Wrap(err, "generating seal nonce")
	}

	plaintext := keys.Marshal()
	defer zero(plaintext)

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// UnsealKeys decrypts a sealed Keys bundle under the Master Key.
// Authentication failure (wrong passphrase or wrong derivation method)
// surfaces as WalletAccessFailed, never as a raw AEAD error.
func UnsealKeys(sealed []byte, masterKey *SecureBytes) (*Keys, error) {
	aead, err := chacha20poly1305.New(masterKey.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrEncryption, "constructing AEAD: %v", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, walleterr.ErrWalletAccessFailed
	}

	nonce := sealed[:aead.NonceSize()]
	ciphertext := sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, walleterr.ErrWalletAccessFailed
	}
	defer zero(plaintext)

	return UnmarshalKeys(plaintext)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
