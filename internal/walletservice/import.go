package walletservice

import (
	"context"
	"io"

	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// pendingImportEntry is the phase-1 state carried between
// ImportWalletPrepare and ImportWalletContinue: the archive header has
// been parsed and the destination's salt generated, but neither
// Master Key has been derived yet — both directives are handed back
// to the caller, who derives the expensive Master Keys off the
// service's call path before calling ImportWalletContinue, per
// spec.md §4.7.
type pendingImportEntry struct {
	effectiveID string
	backend     storage.Backend
	config      storage.Config
	credentials storage.Config
	destSalt    []byte
	header      *wallet.ArchiveHeader
}

// ImportWalletPrepare resolves the destination backend, reads the
// archive's header, and generates the destination wallet's salt — all
// I/O and randomness, no Master Key derivation. It returns a
// directive for the archive's import passphrase and one for the
// destination's new passphrase; the caller derives both Master Keys
// and passes them to ImportWalletContinue.
func (s *Service) ImportWalletPrepare(ctx context.Context, archive io.Reader, destCfg Config, destCreds Credentials) (handle uint64, importDirective KeyDerivationDirective, destDirective KeyDerivationDirective, err error) {
	effectiveID := effectiveWalletID(destCfg.ID, destCfg.StorageConfig)
	h := s.nextHandleID()

	s.mu.Lock()
	if rerr := s.reserveLocked(effectiveID, h, pendingImportKind); rerr != nil {
		s.mu.Unlock()
		return 0, KeyDerivationDirective{}, KeyDerivationDirective{}, rerr
	}
	s.mu.Unlock()

	backend, err := s.resolveBackend(destCfg.StorageType)
	if err != nil {
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, KeyDerivationDirective{}, err
	}

	header, err := wallet.ReadHeader(archive)
	if err != nil {
		s.abortReservation(h, effectiveID)
		return 0, KeyDerivationDirective{}, KeyDerivationDirective{}, err
	}

	var destSalt []byte
	if destCreds.KeyDerivationMethod != walletcrypto.Raw {
		destSalt, err = walletcrypto.NewSalt()
		if err != nil {
			s.abortReservation(h, effectiveID)
			return 0, KeyDerivationDirective{}, KeyDerivationDirective{}, err
		}
	}

	s.pendingImport.Set(h, pendingImportEntry{
		effectiveID: effectiveID,
		backend:     backend,
		config:      destCfg.StorageConfig,
		credentials: destCreds.StorageCredentials,
		destSalt:    destSalt,
		header:      header,
	})

	importDirective = KeyDerivationDirective{Method: header.Method, Salt: header.Salt}
	destDirective = KeyDerivationDirective{Method: destCreds.KeyDerivationMethod, Salt: destSalt}
	return h, importDirective, destDirective, nil
}

// ImportWalletContinue creates the destination wallet under
// destMasterKey, decrypts and writes every archived record (using
// importMasterKey), then publishes it under handle. A failure
// triggers the best-effort rollback spec.md §4.6 calls for: the
// partially-populated destination wallet is deleted.
func (s *Service) ImportWalletContinue(ctx context.Context, handle uint64, importMasterKey, destMasterKey *walletcrypto.SecureBytes) (uint64, error) {
	value, ok, _ := s.pendingImport.Get(handle)
	if !ok {
		return 0, walleterr.ErrInvalidWalletHandle
	}
	entry := value.(pendingImportEntry)

	keys, err := walletcrypto.GenerateKeys()
	if err != nil {
		s.abortImport(handle, entry)
		return 0, err
	}

	sealed, err := walletcrypto.SealKeys(keys, destMasterKey)
	if err != nil {
		keys.Destroy()
		s.abortImport(handle, entry)
		return 0, err
	}

	if err := entry.backend.CreateStorage(ctx, entry.effectiveID, entry.config, entry.credentials, storage.Metadata{
		SealedKeys: sealed,
		Salt:       entry.destSalt,
	}); err != nil {
		keys.Destroy()
		s.abortImport(handle, entry)
		return 0, err
	}

	storageHandle, err := entry.backend.OpenStorage(ctx, entry.effectiveID, entry.config, entry.credentials)
	if err != nil {
		keys.Destroy()
		_ = entry.backend.DeleteStorage(ctx, entry.effectiveID, entry.config, entry.credentials)
		s.abortImport(handle, entry)
		return 0, err
	}

	destWallet := wallet.Open(entry.effectiveID, storageHandle, keys)
	pending := wallet.PreparseWithKey(entry.header, importMasterKey)

	if err := wallet.Finish(ctx, pending, destWallet); err != nil {
		_ = storageHandle.Close()
		_ = entry.backend.DeleteStorage(ctx, entry.effectiveID, entry.config, entry.credentials)
		s.abortImport(handle, entry)
		return 0, err
	}

	s.mu.Lock()
	s.wallets[handle] = destWallet
	s.promoteLocked(handle)
	s.mu.Unlock()

	s.pendingImport.Delete(handle)
	return handle, nil
}

// abortImport releases a reservation and its pending entry. Callers
// are responsible for tearing down any storage container created
// before the failure that triggered the abort.
func (s *Service) abortImport(handle uint64, entry pendingImportEntry) {
	s.pendingImport.Delete(handle)
	s.abortReservation(handle, entry.effectiveID)
}
