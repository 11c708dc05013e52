package walletservice

import (
	"context"

	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// pendingDeleteEntry is the phase-1 state carried between
// DeleteWalletPrepare and DeleteWalletContinue.
type pendingDeleteEntry struct {
	effectiveID string
	backend     storage.Backend
	config      storage.Config
	credentials storage.Config
	handle      storage.Handle
	metadata    storage.Metadata
}

// DeleteWalletPrepare opens the storage container and reads its
// Metadata so DeleteWalletContinue can verify the caller's passphrase
// before destroying anything, mirroring OpenWalletPrepare's split.
func (s *Service) DeleteWalletPrepare(ctx context.Context, cfg Config, creds Credentials) (uint64, KeyDerivationDirective, error) {
	effectiveID := effectiveWalletID(cfg.ID, cfg.StorageConfig)
	h := s.nextHandleID()

	s.mu.Lock()
	if err := s.reserveLocked(effectiveID, h, pendingDeleteKind); err != nil {
		s.mu.Unlock()
		return 0, KeyDerivationDirective{}, err
	}
	s.mu.Unlock()

	backend, err := s.resolveBackend(cfg.StorageType)
	if err != nil {
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, err
	}

	storageHandle, err := backend.OpenStorage(ctx, effectiveID, cfg.StorageConfig, creds.StorageCredentials)
	if err != nil {
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, err
	}

	md, err := storageHandle.GetStorageMetadata(ctx)
	if err != nil {
		_ = storageHandle.Close()
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, err
	}

	s.pendingDelete.Set(h, pendingDeleteEntry{
		effectiveID: effectiveID,
		backend:     backend,
		config:      cfg.StorageConfig,
		credentials: creds.StorageCredentials,
		handle:      storageHandle,
		metadata:    md,
	})

	return h, KeyDerivationDirective{Method: creds.KeyDerivationMethod, Salt: md.Salt}, nil
}

// DeleteWalletContinue verifies masterKey against the wallet's sealed
// Keys, then destroys the storage container entirely. A wrong
// masterKey fails with WalletAccessFailed and releases the handle
// without touching storage, per spec.md §8's invariant 3.
func (s *Service) DeleteWalletContinue(ctx context.Context, handle uint64, masterKey *walletcrypto.SecureBytes) error {
	value, ok, _ := s.pendingDelete.Get(handle)
	if !ok {
		return walleterr.ErrInvalidWalletHandle
	}
	entry := value.(pendingDeleteEntry)

	keys, err := walletcrypto.UnsealKeys(entry.metadata.SealedKeys, masterKey)
	if err != nil {
		s.abortDelete(handle, entry)
		return err
	}
	keys.Destroy()

	if err := entry.handle.Close(); err != nil {
		s.abortDelete(handle, entry)
		return err
	}

	if err := entry.backend.DeleteStorage(ctx, entry.effectiveID, entry.config, entry.credentials); err != nil {
		s.abortReservation(handle, entry.effectiveID)
		s.pendingDelete.Delete(handle)
		return err
	}

	s.pendingDelete.Delete(handle)
	s.abortReservation(handle, entry.effectiveID)
	return nil
}

func (s *Service) abortDelete(handle uint64, entry pendingDeleteEntry) {
	s.pendingDelete.Delete(handle)
	_ = entry.handle.Close()
	s.abortReservation(handle, entry.effectiveID)
}
