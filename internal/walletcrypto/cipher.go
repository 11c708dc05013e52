package walletcrypto

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// EncryptDeterministic encrypts plaintext with a nonce derived from
// HMAC(hmacKey, plaintext), so identical inputs always produce
// identical ciphertexts. Used for type, name, and encrypted tag
// name/value fields, enabling equality search over ciphertext.
func EncryptDeterministic(plaintext []byte, key, hmacKey *SecureBytes) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrEncryption, "constructing AEAD: %v", err)
	}

	nonce := deterministicNonce(hmacKey.Bytes(), plaintext, aead.NonceSize())

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// EncryptRandom encrypts plaintext with a fresh random nonce, so
// repeated values do not collide in ciphertext. Used for the record
// value field.
func EncryptRandom(plaintext []byte, key *SecureBytes) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrEncryption, "constructing AEAD: %v", err)
	}

	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, walleterr.Wrap(err, "generating record nonce")
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt authenticates and decrypts a ciphertext produced by either
// EncryptDeterministic or EncryptRandom (both share the same
// nonce-prefix-then-AEAD-tag framing).
func Decrypt(ciphertext []byte, key *SecureBytes) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrEncryption, "constructing AEAD: %v", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, walleterr.ErrEncryption
	}

	nonce := ciphertext[:aead.NonceSize()]
	ct := ciphertext[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, walleterr.ErrEncryption
	}

	return plaintext, nil
}

// deterministicNonce derives a nonce of the given length from
// HMAC-SHA256(hmacKey, plaintext), truncated to nonceLen bytes.
func deterministicNonce(hmacKey, plaintext []byte, nonceLen int) []byte {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(plaintext)
	sum := mac.Sum(nil)
	return sum[:nonceLen]
}
