// Package walletservice implements the Wallet Service capability (C7):
// a process-wide handle registry mediating create/open/close/delete/
// import lifecycles over the storage-backend registry (C1) and the
// Wallet record API (C5), serving concurrent callers behind a single
// mutex held only for map mutations.
package walletservice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/mrz1836/sigilvault/internal/cache"
	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// Config mirrors spec.md §6's Config object: the wallet identity and
// its storage backend selection.
type Config struct {
	ID            string
	StorageType   string
	StorageConfig storage.Config
}

// Credentials mirrors spec.md §6's Credentials object.
type Credentials struct {
	Key                   string
	KeyDerivationMethod   walletcrypto.KeyDerivationMethod
	Rekey                 string
	RekeyDerivationMethod walletcrypto.KeyDerivationMethod
	StorageCredentials    storage.Config
}

// KeyDerivationDirective is what a phase-1 call returns in place of a
// computed Master Key: enough for the caller to perform the
// expensive derivation itself, off the service's call path.
type KeyDerivationDirective struct {
	Method walletcrypto.KeyDerivationMethod
	Salt   []byte
}

// Service is the process-wide wallet-handle registry. Construct one
// per process with NewService; it is safe for concurrent use.
type Service struct {
	registry *storage.Registry

	mu        sync.Mutex
	wallets   map[uint64]*wallet.Wallet
	walletIDs map[string]uint64 // effective id -> handle, reserved from prepare through close

	pendingOpen   cache.PendingCache
	pendingDelete cache.PendingCache
	pendingImport cache.PendingCache

	// reservations tracks every handle reserved by a phase-1 call that
	// has not yet reached phase 2, so the sweeper can find and release
	// stranded ones without the PendingCache interface needing to
	// expose key enumeration.
	reservations map[uint64]reservation

	nextHandle uint64

	staleness time.Duration
	stopSweep chan struct{}
	sweepOnce sync.Once
}

type pendingKind int

const (
	pendingOpenKind pendingKind = iota
	pendingDeleteKind
	pendingImportKind
)

type reservation struct {
	effectiveID string
	kind        pendingKind
	createdAt   time.Time
}

// NewService creates a Service with the given backends pre-registered
// under their names (spec.md §4.7: "the default and remote-SQL
// backends are pre-registered at construction"). staleness configures
// the background sweeper's eviction age for stranded pending entries;
// pass cache.DefaultStaleness if unsure.
func NewService(backends map[string]storage.Factory, staleness time.Duration) *Service {
	registry := storage.NewRegistry()
	for name, factory := range backends {
		registry.Register(name, factory)
	}

	s := &Service{
		registry:      registry,
		wallets:       make(map[uint64]*wallet.Wallet),
		walletIDs:     make(map[string]uint64),
		pendingOpen:   cache.NewPendingCache(),
		pendingDelete: cache.NewPendingCache(),
		pendingImport: cache.NewPendingCache(),
		reservations:  make(map[uint64]reservation),
		staleness:     staleness,
		stopSweep:     make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// RegisterWalletStorage installs a new backend under name, per
// spec.md §4.7's register_wallet_storage.
func (s *Service) RegisterWalletStorage(name string, factory storage.Factory) {
	s.registry.Register(name, factory)
}

// Wallet returns the shared Wallet reference for an open handle.
// Multiple callers may hold the same handle and share the same
// reference, per spec.md §9's "shared ownership of open wallets."
func (s *Service) Wallet(handle uint64) (*wallet.Wallet, error) {
	s.mu.Lock()
	w, ok := s.wallets[handle]
	s.mu.Unlock()
	if !ok {
		return nil, walleterr.ErrInvalidWalletHandle
	}
	return w, nil
}

// CloseWallet removes handle from the registry and closes its
// storage connection. Idempotent in spec.md §4.7's sense: closing an
// already-closed (or never-opened) handle returns InvalidWalletHandle,
// never corrupts state.
func (s *Service) CloseWallet(handle uint64) error {
	s.mu.Lock()
	w, ok := s.wallets[handle]
	if !ok {
		s.mu.Unlock()
		return walleterr.ErrInvalidWalletHandle
	}
	delete(s.wallets, handle)
	delete(s.walletIDs, w.ID())
	s.mu.Unlock()

	return w.Close()
}

// CreateWallet provisions a new wallet's storage container under
// cfg/creds. Unlike open/import, create is not split into two phases:
// spec.md does not call for it, and a fresh wallet's Master Key
// derivation happens exactly once, synchronously, here.
func (s *Service) CreateWallet(ctx context.Context, cfg Config, creds Credentials) error {
	backend, err := s.resolveBackend(cfg.StorageType)
	if err != nil {
		return err
	}

	var salt []byte
	if creds.KeyDerivationMethod != walletcrypto.Raw {
		salt, err = walletcrypto.NewSalt()
		if err != nil {
			return err
		}
	}

	masterKey, err := walletcrypto.DeriveMasterKey(creds.Key, creds.KeyDerivationMethod, salt)
	if err != nil {
		return err
	}
	defer masterKey.Destroy()

	keys, err := walletcrypto.GenerateKeys()
	if err != nil {
		return err
	}
	defer keys.Destroy()

	sealed, err := walletcrypto.SealKeys(keys, masterKey)
	if err != nil {
		return err
	}

	effectiveID := effectiveWalletID(cfg.ID, cfg.StorageConfig)
	return backend.CreateStorage(ctx, effectiveID, cfg.StorageConfig, creds.StorageCredentials, storage.Metadata{
		SealedKeys: sealed,
		Salt:       salt,
	})
}

func (s *Service) resolveBackend(storageType string) (storage.Backend, error) {
	if storageType == "" {
		storageType = "default"
	}

	backend, err := s.registry.Resolve(storageType)
	if err != nil {
		return nil, walleterr.WithSuggestion(err, suggestStorageType(storageType, s.registry.Names()))
	}
	return backend, nil
}

// suggestStorageType returns the registered name closest to the
// unrecognized one, for UnknownStorageType's Suggestion field, or ""
// if nothing registered is close enough to be useful.
func suggestStorageType(name string, known []string) string {
	const maxUsefulDistance = 3

	best := ""
	bestDist := maxUsefulDistance + 1
	for _, candidate := range known {
		dist := levenshtein.ComputeDistance(name, candidate)
		if dist < bestDist {
			bestDist = dist
			best = candidate
		}
	}
	if bestDist > maxUsefulDistance {
		return ""
	}
	return best
}

// effectiveWalletID folds storage_config's "path" field into the
// registry key, per spec.md §6: "the registry key is id ++ path, so
// the same nominal id over distinct paths denotes distinct wallets."
func effectiveWalletID(id string, config storage.Config) string {
	if config == nil {
		return id
	}
	path, ok := config["path"].(string)
	if !ok || path == "" {
		return id
	}
	return id + path
}

func (s *Service) nextHandleID() uint64 {
	return atomic.AddUint64(&s.nextHandle, 1)
}

// reserveLocked claims effectiveID for handle, failing with
// WalletAlreadyOpened if it is already reserved (by an in-flight
// prepare or a fully open wallet). Must be called under s.mu.
func (s *Service) reserveLocked(effectiveID string, handle uint64, kind pendingKind) error {
	if _, exists := s.walletIDs[effectiveID]; exists {
		return walleterr.ErrWalletAlreadyOpened
	}
	s.walletIDs[effectiveID] = handle
	s.reservations[handle] = reservation{effectiveID: effectiveID, kind: kind, createdAt: time.Now()}
	return nil
}

// releaseLocked drops a handle's reservation entirely (abort or
// sweep). Must be called under s.mu.
func (s *Service) releaseLocked(handle uint64, effectiveID string) {
	delete(s.walletIDs, effectiveID)
	delete(s.reservations, handle)
}

// promoteLocked marks a reservation as having reached phase 2
// successfully: the wallet id stays reserved (now representing a
// fully open wallet, not a pending one) but the handle no longer
// needs sweeper tracking. Must be called under s.mu.
func (s *Service) promoteLocked(handle uint64) {
	delete(s.reservations, handle)
}

// Close stops the background sweeper. Safe to call once; a process
// that never calls Close simply leaks the sweeper goroutine until exit.
func (s *Service) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}
