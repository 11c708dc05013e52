package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	"github.com/mrz1836/sigilvault/internal/walletservice"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

//nolint:gochecknoglobals // cobra CLI pattern requires package-level flag variables
var (
	exportOut       string
	exportKDF       string
	exportChunkSize uint32

	importIn      string
	importKDF     string
	importStorage string
)

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var walletExportCmd = &cobra.Command{
	Use:   "wallet export <wallet-id>",
	Short: "Export a wallet to a portable encrypted archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		walletID := args[0]

		return withWallet(cmd, walletID, func(ctx context.Context, w *wallet.Wallet) error {
			exportPassphrase, err := promptNewPassphraseLabeled("Export archive passphrase: ")
			if err != nil {
				return err
			}
			defer walletcrypto.ZeroBytes(exportPassphrase)

			method, err := parseKDFMethod(exportKDF)
			if err != nil {
				return err
			}

			chunkSize := exportChunkSize
			if chunkSize == 0 {
				chunkSize = cfg.Export.ChunkSize
			}
			if chunkSize == 0 {
				chunkSize = wallet.DefaultExportChunkSize
			}

			destPath := exportOut
			if destPath == "" {
				destPath = walletID + ".sigilvault-export"
			}

			dir := filepath.Dir(destPath)
			tmp, err := os.CreateTemp(dir, filepath.Base(destPath)+".tmp-*")
			if err != nil {
				return err
			}
			tmpPath := tmp.Name()
			defer func() { _ = os.Remove(tmpPath) }()

			exportErr := w.Export(ctx, tmp, wallet.ExportOptions{
				Passphrase: string(exportPassphrase),
				Method:     method,
				ChunkSize:  chunkSize,
			})
			closeErr := tmp.Close()
			if exportErr != nil {
				return exportErr
			}
			if closeErr != nil {
				return closeErr
			}

			if err := os.Rename(tmpPath, destPath); err != nil {
				return err
			}

			outln(os.Stdout, "wallet", walletID, "exported to", destPath)
			return nil
		})
	},
}

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var walletImportCmd = &cobra.Command{
	Use:   "wallet import <wallet-id>",
	Short: "Import a wallet from a portable encrypted archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		walletID := args[0]
		ctx := cmd.Context()

		if importIn == "" {
			return walleterr.WithSuggestion(
				walleterr.New("INVALID_INPUT", "missing archive path"),
				"pass --in <path> with the archive to import",
			)
		}

		archive, err := os.Open(importIn) //nolint:gosec // G304: path is an operator-supplied CLI flag
		if err != nil {
			return err
		}
		defer func() { _ = archive.Close() }()

		archivePassphrase, err := promptPassword("Archive passphrase: ")
		if err != nil {
			return err
		}
		defer walletcrypto.ZeroBytes(archivePassphrase)

		destPassphrase, err := promptNewPassphraseLabeled("New wallet passphrase: ")
		if err != nil {
			return err
		}
		defer walletcrypto.ZeroBytes(destPassphrase)

		method, err := parseKDFMethod(importKDF)
		if err != nil {
			return err
		}

		destCfg := walletConfig(walletID, importStorage)
		destCreds := walletservice.Credentials{
			KeyDerivationMethod: method,
		}

		handle, importDirective, destDirective, err := svc.ImportWalletPrepare(ctx, archive, destCfg, destCreds)
		if err != nil {
			return err
		}

		importMasterKey, err := walletcrypto.DeriveMasterKey(string(archivePassphrase), importDirective.Method, importDirective.Salt)
		if err != nil {
			return err
		}
		defer importMasterKey.Destroy()

		destMasterKey, err := walletcrypto.DeriveMasterKey(string(destPassphrase), destDirective.Method, destDirective.Salt)
		if err != nil {
			return err
		}
		defer destMasterKey.Destroy()

		finalHandle, err := svc.ImportWalletContinue(ctx, handle, importMasterKey, destMasterKey)
		if err != nil {
			return err
		}
		defer func() { _ = svc.CloseWallet(finalHandle) }()

		outln(os.Stdout, "wallet", walletID, "imported from", importIn)
		return nil
	},
}

//nolint:gochecknoinits // cobra CLI pattern requires init for flag registration
func init() {
	walletExportCmd.Flags().StringVar(&exportOut, "out", "", "output archive path (default: <wallet-id>.sigilvault-export)")
	walletExportCmd.Flags().StringVar(&exportKDF, "kdf", "argon2i_mod", "key derivation method for the archive passphrase")
	walletExportCmd.Flags().Uint32Var(&exportChunkSize, "chunk-size", 0, "export chunk size in bytes (default: config's export.chunk_size)")

	walletImportCmd.Flags().StringVar(&importIn, "in", "", "input archive path")
	walletImportCmd.Flags().StringVar(&importKDF, "kdf", "argon2i_mod", "key derivation method for the new wallet's passphrase")
	walletImportCmd.Flags().StringVar(&importStorage, "storage", "", "storage backend for the imported wallet")

	rootCmd.AddCommand(walletExportCmd)
	rootCmd.AddCommand(walletImportCmd)
}
