package walletcrypto

import (
	"strconv"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// KeyLen is the fixed size, in bytes, of each of the six keys in a
// Keys bundle.
const KeyLen = 32

// keyCount is the number of independent symmetric keys in a bundle.
const keyCount = 6

// Keys is the per-wallet bundle of six independent symmetric keys:
// four deterministic keys (type, name, tag name, tag value), one
// randomized key (value), and one HMAC key used to derive the
// deterministic nonces for the four deterministic keys.
type Keys struct {
	TypeKey     *SecureBytes
	NameKey     *SecureBytes
	ValueKey    *SecureBytes
	TagNameKey  *SecureBytes
	TagValueKey *SecureBytes
	TagsHMACKey *SecureBytes
}

// GenerateKeys creates a fresh Keys bundle from cryptographically
// secure random bytes, one 32-byte key per slot.
func GenerateKeys() (*Keys, error) {
	keys := &Keys{}

	slots := []**SecureBytes{
		&keys.TypeKey, &keys.NameKey, &keys.ValueKey,
		&keys.TagNameKey, &keys.TagValueKey, &keys.TagsHMACKey,
	}

	for _, slot := range slots {
		sb, err := SecureRandomBytes(KeyLen)
		if err != nil {
			keys.Destroy()
			return nil, walleterr.Wrap(err, "generating key material")
		}
		*slot = sb
	}

	return keys, nil
}

// Destroy zeros and unlocks every key in the bundle. Safe to call
// multiple times and safe to call on a partially populated bundle.
func (k *Keys) Destroy() {
	if k == nil {
		return
	}
	for _, sb := range []*SecureBytes{
		k.TypeKey, k.NameKey, k.ValueKey, k.TagNameKey, k.TagValueKey, k.TagsHMACKey,
	} {
		if sb != nil {
			sb.Destroy()
		}
	}
}

// Marshal serializes the bundle into a fixed-order byte vector:
// type_key || name_key || value_key || tag_name_key || tag_value_key || tags_hmac_key.
func (k *Keys) Marshal() []byte {
	out := make([]byte, 0, keyCount*KeyLen)
	for _, sb := range []*SecureBytes{
		k.TypeKey, k.NameKey, k.ValueKey, k.TagNameKey, k.TagValueKey, k.TagsHMACKey,
	} {
		out = append(out, sb.Bytes()...)
	}
	return out
}

// UnmarshalKeys parses a fixed-order byte vector (as produced by
// Marshal) back into a Keys bundle. The input is copied into
// SecureBytes slots; the caller remains responsible for zeroing it.
func UnmarshalKeys(data []byte) (*Keys, error) {
	if len(data) != keyCount*KeyLen {
		return nil, walleterr.WithDetails(walleterr.ErrInvalidState, map[string]string{
			"expected_len": strconv.Itoa(keyCount * KeyLen),
			"actual_len":   strconv.Itoa(len(data)),
		})
	}

	keys := &Keys{}
	slots := []**SecureBytes{
		&keys.TypeKey, &keys.NameKey, &keys.ValueKey,
		&keys.TagNameKey, &keys.TagValueKey, &keys.TagsHMACKey,
	}

	for i, slot := range slots {
		chunk := data[i*KeyLen : (i+1)*KeyLen]
		sb, err := SecureBytesFromSlice(chunk)
		if err != nil {
			keys.Destroy()
			return nil, err
		}
		*slot = sb
	}

	return keys, nil
}
