package walletcrypto

import (
	"github.com/mrz1836/sigilvault/internal/walletcrypto/shamir"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// SplitMasterKey splits a derived Master Key into n Shamir shares,
// any k of which reconstruct it. This is an opt-in recovery mechanism
// layered on top of the Master Key, not a replacement for the normal
// passphrase-derivation path: Wallet and Service never call it.
func SplitMasterKey(masterKey *SecureBytes, n, k int) ([]string, error) {
	shares, err := shamir.Split(masterKey.Bytes(), n, k)
	if err != nil {
		return nil, walleterr.Wrap(err, "splitting master key")
	}
	return shares, nil
}

// RecoverMasterKey reconstructs a Master Key from at least k shares
// produced by SplitMasterKey.
func RecoverMasterKey(shares []string) (*SecureBytes, error) {
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, walleterr.Wrap(err, "recovering master key")
	}
	defer zero(secret)

	if len(secret) != MasterKeyLen {
		return nil, walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{
			"expected_len": "32",
		})
	}

	return SecureBytesFromSlice(secret)
}
