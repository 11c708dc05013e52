package walletservice

import (
	"context"

	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// pendingOpenEntry is the phase-1 state carried between
// OpenWalletPrepare and OpenWalletContinue.
type pendingOpenEntry struct {
	effectiveID string
	handle      storage.Handle
	metadata    storage.Metadata
	rekey       string
	rekeyMethod walletcrypto.KeyDerivationMethod
}

// OpenWalletPrepare opens the storage container and reads its
// Metadata (I/O only; no Master Key computation), per spec.md §4.7.
// The caller derives the Master Key from the returned directive
// (and, if creds.Rekey is set, the rekey directive) and passes both
// to OpenWalletContinue.
func (s *Service) OpenWalletPrepare(ctx context.Context, cfg Config, creds Credentials) (handle uint64, directive KeyDerivationDirective, rekeyDirective *KeyDerivationDirective, err error) {
	effectiveID := effectiveWalletID(cfg.ID, cfg.StorageConfig)

	h := s.nextHandleID()

	s.mu.Lock()
	if rerr := s.reserveLocked(effectiveID, h, pendingOpenKind); rerr != nil {
		s.mu.Unlock()
		return 0, KeyDerivationDirective{}, nil, rerr
	}
	s.mu.Unlock()

	backend, err := s.resolveBackend(cfg.StorageType)
	if err != nil {
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, nil, err
	}

	storageHandle, err := backend.OpenStorage(ctx, effectiveID, cfg.StorageConfig, creds.StorageCredentials)
	if err != nil {
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, nil, err
	}

	md, err := storageHandle.GetStorageMetadata(ctx)
	if err != nil {
		_ = storageHandle.Close()
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, nil, err
	}

	entry := pendingOpenEntry{
		effectiveID: effectiveID,
		handle:      storageHandle,
		metadata:    md,
		rekey:       creds.Rekey,
		rekeyMethod: creds.RekeyDerivationMethod,
	}
	s.pendingOpen.Set(h, entry)

	directive = KeyDerivationDirective{Method: creds.KeyDerivationMethod, Salt: md.Salt}
	if creds.Rekey != "" {
		rekeyDirective = &KeyDerivationDirective{Method: creds.RekeyDerivationMethod}
	}
	return h, directive, rekeyDirective, nil
}

// OpenWalletContinue unseals the Keys bundle under masterKey,
// optionally rotates it under rekeyMasterKey (resealing and
// persisting new Metadata), and publishes the Wallet under handle.
// A wrong masterKey surfaces as WalletAccessFailed and releases the
// reservation, matching spec.md §8's invariant 3 ("...leaves the
// wallet intact").
func (s *Service) OpenWalletContinue(ctx context.Context, handle uint64, masterKey *walletcrypto.SecureBytes, rekeyMasterKey *walletcrypto.SecureBytes) (uint64, error) {
	value, ok, _ := s.pendingOpen.Get(handle)
	if !ok {
		return 0, walleterr.ErrInvalidWalletHandle
	}
	entry := value.(pendingOpenEntry)

	keys, err := walletcrypto.UnsealKeys(entry.metadata.SealedKeys, masterKey)
	if err != nil {
		s.abortOpen(handle, entry)
		return 0, err
	}

	if entry.rekey != "" {
		if rekeyMasterKey == nil {
			keys.Destroy()
			s.abortOpen(handle, entry)
			return 0, walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{"reason": "rekey requested without a rekey master key"})
		}

		var newSalt []byte
		if entry.rekeyMethod != walletcrypto.Raw {
			newSalt, err = walletcrypto.NewSalt()
			if err != nil {
				keys.Destroy()
				s.abortOpen(handle, entry)
				return 0, err
			}
		}

		sealed, err := walletcrypto.SealKeys(keys, rekeyMasterKey)
		if err != nil {
			keys.Destroy()
			s.abortOpen(handle, entry)
			return 0, err
		}

		if err := entry.handle.SetStorageMetadata(ctx, storageMetadataWith(sealed, newSalt)); err != nil {
			keys.Destroy()
			s.abortOpen(handle, entry)
			return 0, err
		}
	}

	w := wallet.Open(entry.effectiveID, entry.handle, keys)

	s.mu.Lock()
	s.wallets[handle] = w
	s.promoteLocked(handle)
	s.mu.Unlock()

	s.pendingOpen.Delete(handle)
	return handle, nil
}

func storageMetadataWith(sealed, salt []byte) storage.Metadata {
	return storage.Metadata{SealedKeys: sealed, Salt: salt}
}

// abortReservation releases a reservation taken before any pending
// entry existed (failures between handle allocation and the pending
// Set call).
func (s *Service) abortReservation(handle uint64, effectiveID string) {
	s.mu.Lock()
	s.releaseLocked(handle, effectiveID)
	s.mu.Unlock()
}

// abortOpen releases a reservation and its pending entry, closing the
// storage handle it was holding open.
func (s *Service) abortOpen(handle uint64, entry pendingOpenEntry) {
	s.pendingOpen.Delete(handle)
	_ = entry.handle.Close()
	s.abortReservation(handle, entry.effectiveID)
}
