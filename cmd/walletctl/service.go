package main

import (
	"context"
	"fmt"

	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	"github.com/mrz1836/sigilvault/internal/walletservice"
)

// walletConfig builds the storage-routing configuration for a named
// wallet from the flags and config shared by every subcommand.
func walletConfig(walletID, storageType string) walletservice.Config {
	if storageType == "" {
		storageType = cfg.Storage.DefaultType
	}
	return walletservice.Config{
		ID:          walletID,
		StorageType: storageType,
	}
}

// resolvePassphrase prompts for a wallet's passphrase. The CLI is a
// per-invocation collaborator: it never caches a passphrase across
// commands, so every operation that needs one prompts fresh. The
// caller owns the returned bytes and must zero them when done.
func resolvePassphrase(walletID string) ([]byte, error) {
	return promptPassword(fmt.Sprintf("Passphrase for wallet %q: ", walletID))
}

// openWallet runs the open_wallet prepare/continue pair against the
// process-local service, deriving the Master Key from the directive the
// service returns so the caller never has to guess the storage's salt
// or derivation method.
func openWallet(ctx context.Context, walletCfg walletservice.Config, passphrase []byte) (uint64, error) {
	creds := walletservice.Credentials{Key: string(passphrase)}

	handle, directive, _, err := svc.OpenWalletPrepare(ctx, walletCfg, creds)
	if err != nil {
		return 0, err
	}

	masterKey, err := walletcrypto.DeriveMasterKey(string(passphrase), directive.Method, directive.Salt)
	if err != nil {
		return 0, err
	}
	defer masterKey.Destroy()

	return svc.OpenWalletContinue(ctx, handle, masterKey, nil)
}
