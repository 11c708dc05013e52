package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	"github.com/mrz1836/sigilvault/internal/walletservice"
)

//nolint:gochecknoglobals // cobra CLI pattern requires package-level flag variables
var (
	createStorageType string
	createKDF         string
)

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var walletCreateCmd = &cobra.Command{
	Use:   "wallet create <id>",
	Short: "Create a new encrypted wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		walletID := args[0]

		method, err := parseKDFMethod(createKDF)
		if err != nil {
			return err
		}

		passphrase, err := promptNewPassphrase()
		if err != nil {
			return err
		}
		defer walletcrypto.ZeroBytes(passphrase)

		walletCfg := walletConfig(walletID, createStorageType)
		creds := walletservice.Credentials{
			Key:                 string(passphrase),
			KeyDerivationMethod: method,
		}

		if err := svc.CreateWallet(cmd.Context(), walletCfg, creds); err != nil {
			return err
		}

		outln(os.Stdout, "wallet", walletID, "created")
		return nil
	},
}

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var walletOpenCmd = &cobra.Command{
	Use:   "wallet open <id>",
	Short: "Verify a wallet's passphrase without modifying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		walletID := args[0]

		passphrase, err := promptPassword("Passphrase: ")
		if err != nil {
			return err
		}
		defer walletcrypto.ZeroBytes(passphrase)

		handle, err := openWallet(cmd.Context(), walletConfig(walletID, ""), passphrase)
		if err != nil {
			return err
		}
		_ = svc.CloseWallet(handle)

		outln(os.Stdout, "wallet", walletID, "opened")
		return nil
	},
}

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var walletDeleteCmd = &cobra.Command{
	Use:   "wallet delete <id>",
	Short: "Permanently delete a wallet and its storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		walletID := args[0]

		passphrase, err := promptPassword("Passphrase: ")
		if err != nil {
			return err
		}
		defer walletcrypto.ZeroBytes(passphrase)

		handle, directive, err := svc.DeleteWalletPrepare(cmd.Context(), walletConfig(walletID, ""), walletservice.Credentials{
			Key: string(passphrase),
		})
		if err != nil {
			return err
		}

		masterKey, err := walletcrypto.DeriveMasterKey(string(passphrase), directive.Method, directive.Salt)
		if err != nil {
			return err
		}
		defer masterKey.Destroy()

		if err := svc.DeleteWalletContinue(cmd.Context(), handle, masterKey); err != nil {
			return err
		}

		outln(os.Stdout, "wallet", walletID, "deleted")
		return nil
	},
}

//nolint:gochecknoinits // cobra CLI pattern requires init for flag registration
func init() {
	walletCreateCmd.Flags().StringVar(&createStorageType, "storage", "", "storage backend: default (embedded sqlite) or postgres")
	walletCreateCmd.Flags().StringVar(&createKDF, "kdf", "argon2i_mod", "key derivation method: raw, argon2i_mod, argon2i_int")

	rootCmd.AddCommand(walletCreateCmd)
	rootCmd.AddCommand(walletOpenCmd)
	rootCmd.AddCommand(walletDeleteCmd)
}
