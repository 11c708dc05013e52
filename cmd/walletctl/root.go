package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/sigilvault/internal/config"
	"github.com/mrz1836/sigilvault/internal/storage/pgstore"
	"github.com/mrz1836/sigilvault/internal/storage/sqlitestore"
	"github.com/mrz1836/sigilvault/internal/walletservice"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// BuildInfo carries version metadata injected at build time via ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

//nolint:gochecknoglobals // cobra CLI pattern requires package-level state
var (
	// Global flags.
	homeDir      string
	outputFormat string
	verbose      bool

	// Global state initialized in initGlobals.
	cfg    *config.Config
	logger *config.Logger
	svc    *walletservice.Service

	buildInfo BuildInfo
)

// rootCmd is the base command when called without any subcommands.
//
//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var rootCmd = &cobra.Command{
	Use:   "walletctl",
	Short: "Encrypted pairwise wallet service client",
	Long: `walletctl drives a sigilvault wallet service directly: create and
open encrypted wallets, store and query tagged records, and export or
import wallets as portable encrypted archives.

Example:
  walletctl wallet create main --kdf argon2i_mod
  walletctl item add main --type credential --name github --value s3cr3t
  walletctl item search main --type credential`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initGlobals(cmd)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command with the given build information.
func Execute(info BuildInfo) error {
	buildInfo = info
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// ExitCode returns the appropriate process exit code for an error.
func ExitCode(err error) int {
	return walleterr.ExitCode(err)
}

// initGlobals initializes the configuration, logger, and wallet service
// shared by every subcommand.
func initGlobals(_ *cobra.Command) error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	configPath := config.Path(home)
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Defaults()
			cfg.Home = home
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
			cfg = config.Defaults()
			cfg.Home = home
		}
	}

	config.ApplyEnvironment(cfg)

	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != "auto" {
		cfg.Output.DefaultFormat = outputFormat
	}

	if strings.HasPrefix(cfg.Home, "~/") {
		if userHome, homeErr := os.UserHomeDir(); homeErr == nil {
			cfg.Home = filepath.Join(userHome, cfg.Home[2:])
		}
	}
	if strings.HasPrefix(cfg.Storage.Path, "~/") {
		if userHome, homeErr := os.UserHomeDir(); homeErr == nil {
			cfg.Storage.Path = filepath.Join(userHome, cfg.Storage.Path[2:])
		}
	}

	for _, w := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	logLevel := config.ParseLogLevel(cfg.Logging.Level)
	logger, err = config.NewLogger(logLevel, cfg.Logging.File)
	if err != nil {
		logger = config.NullLogger()
	}

	initService()

	return nil
}

// initService constructs the wallet service and registers its storage
// backends. Each invocation of walletctl builds its own service instance;
// handles do not survive across process boundaries, only within a single
// command (e.g. import's prepare/continue pair runs inside one RunE).
func initService() {
	staleness := time.Duration(cfg.Security.PendingTTLMinutes) * time.Minute
	if staleness <= 0 {
		staleness = 5 * time.Minute
	}

	svc = walletservice.NewService(nil, staleness)
	svc.RegisterWalletStorage("default", sqlitestore.New(cfg.GetStoragePath()))
	svc.RegisterWalletStorage("postgres", pgstore.New())
}

// cleanup releases resources acquired during the command's lifetime.
func cleanup() {
	if svc != nil {
		svc.Close()
	}
	if logger != nil {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}
}

// out is a helper for unformatted CLI output.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func out(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// outln is a helper for CLI output with a trailing newline.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func outln(w io.Writer, args ...interface{}) {
	fmt.Fprintln(w, args...)
}

// versionCmd shows version information.
//
//nolint:gochecknoglobals // cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		outln(os.Stdout, fmt.Sprintf("walletctl version %s", buildInfo.Version))
		outln(os.Stdout, fmt.Sprintf("  commit: %s", buildInfo.Commit))
		outln(os.Stdout, fmt.Sprintf("  built:  %s", buildInfo.Date))
	},
}

//nolint:gochecknoinits // cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "walletctl data directory (default: ~/.sigilvault)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}
