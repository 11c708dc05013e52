package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/sigilvault/internal/record"
	"github.com/mrz1836/sigilvault/internal/tagquery"
	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
)

//nolint:gochecknoglobals // cobra CLI pattern requires package-level flag variables
var (
	itemType  string
	itemName  string
	itemValue string
	itemTags  []string
	itemQuery string
)

// withWallet opens a wallet for the duration of fn and closes it
// afterward.
func withWallet(cmd *cobra.Command, walletID string, fn func(ctx context.Context, w *wallet.Wallet) error) error {
	ctx := cmd.Context()

	passphrase, err := resolvePassphrase(walletID)
	if err != nil {
		return err
	}
	defer walletcrypto.ZeroBytes(passphrase)

	handle, err := openWallet(ctx, walletConfig(walletID, ""), passphrase)
	if err != nil {
		return err
	}
	defer func() { _ = svc.CloseWallet(handle) }()

	w, err := svc.Wallet(handle)
	if err != nil {
		return err
	}

	return fn(ctx, w)
}

// parseTagFlags turns repeated --tag name=value flags into a tag map.
// A name prefixed with "~" (record.PlainTagPrefix) is stored unencrypted.
func parseTagFlags(flags []string) map[string]string {
	tags := make(map[string]string, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		tags[name] = value
	}
	return tags
}

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var itemAddCmd = &cobra.Command{
	Use:   "item add <wallet-id>",
	Short: "Add a record to a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallet(cmd, args[0], func(ctx context.Context, w *wallet.Wallet) error {
			rec := record.Record{
				Type:  itemType,
				Name:  itemName,
				Value: []byte(itemValue),
				Tags:  parseTagFlags(itemTags),
			}
			if err := w.Add(ctx, rec); err != nil {
				return err
			}
			outln(os.Stdout, "item", itemType+"/"+itemName, "added")
			return nil
		})
	},
}

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var itemGetCmd = &cobra.Command{
	Use:   "item get <wallet-id>",
	Short: "Retrieve a record from a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallet(cmd, args[0], func(ctx context.Context, w *wallet.Wallet) error {
			opts := record.DefaultOptions()
			opts.RetrieveTags = true
			rec, err := w.Get(ctx, itemType, itemName, opts)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(rec)
		})
	},
}

//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var itemSearchCmd = &cobra.Command{
	Use:   "item search <wallet-id>",
	Short: "Search a wallet's records by tag query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallet(cmd, args[0], func(ctx context.Context, w *wallet.Wallet) error {
			var query *tagquery.Query
			if itemQuery != "" {
				q, err := tagquery.ParseJSON([]byte(itemQuery))
				if err != nil {
					return err
				}
				query = q
			}

			opts := record.DefaultSearchOptions()
			iter, err := w.Search(ctx, itemType, query, opts)
			if err != nil {
				return err
			}
			defer func() { _ = iter.Close() }()

			enc := json.NewEncoder(os.Stdout)
			for iter.Next(ctx) {
				if err := enc.Encode(iter.Record()); err != nil {
					return err
				}
			}
			return iter.Err()
		})
	},
}

//nolint:gochecknoinits // cobra CLI pattern requires init for flag registration
func init() {
	for _, c := range []*cobra.Command{itemAddCmd, itemGetCmd, itemSearchCmd} {
		c.Flags().StringVar(&itemType, "type", "", "record type")
	}
	itemAddCmd.Flags().StringVar(&itemName, "name", "", "record name")
	itemAddCmd.Flags().StringVar(&itemValue, "value", "", "record value")
	itemAddCmd.Flags().StringArrayVar(&itemTags, "tag", nil, "tag in name=value form, repeatable; prefix name with ~ for a plain tag")

	itemGetCmd.Flags().StringVar(&itemName, "name", "", "record name")

	itemSearchCmd.Flags().StringVar(&itemQuery, "query", "", "JSON tag query")

	rootCmd.AddCommand(itemAddCmd)
	rootCmd.AddCommand(itemGetCmd)
	rootCmd.AddCommand(itemSearchCmd)
}
