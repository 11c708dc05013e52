package config

// Default Argon2i cost values for the kdf section of the config file.
// They are only stored and loaded with the config:
// walletcrypto.DeriveMasterKey does not read them and uses its own fixed
// parameters for Argon2iMod and Argon2iInt.
const (
	DefaultKDFMemoryKiB   uint32 = 128 * 1024
	DefaultKDFIterations  uint32 = 3
	DefaultKDFParallelism uint8  = 1
)

// DefaultExportChunkSize is the default export.chunk_size, used by
// walletctl's `wallet export` when --chunk-size is not given.
// wallet.Export itself falls back to wallet.DefaultExportChunkSize
// (64 KiB) when ExportOptions.ChunkSize is zero.
const DefaultExportChunkSize uint32 = 1 << 20 // 1 MiB

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.sigilvault",
		Storage: StorageConfig{
			DefaultType: "default",
			Path:        "~/.sigilvault/wallets",
		},
		KDF: KDFConfig{
			DefaultMethod: "argon2i_mod",
			MemoryKiB:     DefaultKDFMemoryKiB,
			Iterations:    DefaultKDFIterations,
			Parallelism:   DefaultKDFParallelism,
		},
		Export: ExportConfig{
			ChunkSize: DefaultExportChunkSize,
		},
		Security: SecurityConfig{
			SweepIntervalSeconds: 30,
			PendingTTLMinutes:    5,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.sigilvault/sigilvault.log",
		},
	}
}
