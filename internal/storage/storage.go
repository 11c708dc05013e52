// Package storage defines the pluggable storage-backend capability set
// (C1): row-level persistence of (type, name, value, tags) tuples and
// a per-wallet metadata blob, behind a registry of named backends so a
// wallet's storage_type selects its implementation at open time.
package storage

import (
	"context"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// TagPair is one tag entry on a stored row. Plain reports whether the
// pair came from a `~`-prefixed plain tag; plain pairs carry their
// names and values unencrypted, encrypted pairs carry ciphertext in
// both fields.
type TagPair struct {
	Name  string
	Value string
	Plain bool
}

// Row is the ciphertext-level representation of a Record as the
// backend sees it: type/name/value are already encrypted by the
// caller (the Wallet), and tags are a flat set of plain/encrypted pairs.
type Row struct {
	TypeCiphertext  []byte
	NameCiphertext  []byte
	ValueCiphertext []byte
	Tags            []TagPair
}

// SearchOptions controls what a Search iterator returns per row.
type SearchOptions struct {
	RetrieveType       bool
	RetrieveValue      bool
	RetrieveTags       bool
	RetrieveRecords    bool
	RetrieveTotalCount bool
}

// RowIterator yields ciphertext rows one at a time. Implementations
// may hold backend-specific resources (a cursor, a connection) and
// MUST be closed by the caller.
type RowIterator interface {
	// Next advances to the next row. Returns false at end of stream or
	// on error; callers must check Err after Next returns false.
	Next(ctx context.Context) bool
	// Row returns the current row. Valid only after a true Next.
	Row() Row
	// TotalCount returns the total number of matching rows, if the
	// search requested RetrieveTotalCount; otherwise -1.
	TotalCount() int
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases backend resources held by the iterator.
	Close() error
}

// Config is the opaque, backend-specific configuration accepted by
// CreateStorage/OpenStorage/DeleteStorage (the wallet service's
// storage_config and storage_credentials fields, already unmarshaled
// from JSON by the caller).
type Config map[string]any

// Metadata is the per-wallet blob containing the sealed Keys bundle
// and, for Argon-derived wallets, the KDF salt.
type Metadata struct {
	SealedKeys []byte
	Salt       []byte // empty for Raw-derived wallets
}

// Handle is an open connection to one wallet's storage, returned by
// OpenStorage. All row operations are scoped to the wallet that was
// opened.
type Handle interface {
	// Add inserts a new row. Fails with ItemAlreadyExists if a row with
	// the same TypeCiphertext+NameCiphertext already exists.
	Add(ctx context.Context, row Row) error

	// Update replaces the value of an existing row, keyed by
	// TypeCiphertext+NameCiphertext. Fails with ItemNotFound.
	Update(ctx context.Context, typeCT, nameCT, valueCT []byte) error

	// AddTags merges tags into an existing row's tag set (by tag name,
	// last write wins on overlap). Fails with ItemNotFound.
	AddTags(ctx context.Context, typeCT, nameCT []byte, tags []TagPair) error

	// UpdateTags replaces an existing row's entire tag set. Fails with
	// ItemNotFound.
	UpdateTags(ctx context.Context, typeCT, nameCT []byte, tags []TagPair) error

	// DeleteTags removes the named tags from an existing row. tagNames
	// carries ciphertext names for encrypted tags and plain (`~`-prefixed)
	// names for plain tags. Fails with ItemNotFound.
	DeleteTags(ctx context.Context, typeCT, nameCT []byte, tagNames []string) error

	// Delete removes a row. Fails with ItemNotFound.
	Delete(ctx context.Context, typeCT, nameCT []byte) error

	// Get retrieves a single row. Fails with ItemNotFound.
	Get(ctx context.Context, typeCT, nameCT []byte, opts SearchOptions) (Row, error)

	// Search returns an iterator over rows of the given ciphertext type
	// matching the (already-compiled) ciphertext tag query.
	Search(ctx context.Context, typeCT []byte, query *CompiledQuery, opts SearchOptions) (RowIterator, error)

	// SearchAll returns an iterator over every row in the wallet,
	// regardless of type, in (type, name) order. Internal-only: used
	// by the export codec, not part of the Wallet's exported surface.
	SearchAll(ctx context.Context) (RowIterator, error)

	// GetStorageMetadata returns the persisted Metadata blob.
	GetStorageMetadata(ctx context.Context) (Metadata, error)

	// SetStorageMetadata overwrites the persisted Metadata blob, e.g.
	// after a key-rotation reseal.
	SetStorageMetadata(ctx context.Context, md Metadata) error

	// Close releases the backend connection. Safe to call once; a
	// second Close is a no-op.
	Close() error
}

// CompiledQuery is the ciphertext-level query tree a backend evaluates
// against Rows. Backend packages do not depend on internal/tagquery
// directly to avoid a storage->tagquery->walletcrypto import cycle
// concern; the wallet layer converts a *tagquery.Query into this shape.
type CompiledQuery struct {
	Op     int
	Name   string
	Value  string
	Values []string
	Sub    []*CompiledQuery
}

// Backend is the capability set a storage implementation exposes,
// registered under a name (e.g. "default", "postgres") and selected by
// a wallet's storage_type config field.
type Backend interface {
	// CreateStorage provisions a new wallet's storage container and
	// writes its initial Metadata. Fails with WalletAlreadyExists.
	CreateStorage(ctx context.Context, id string, config, credentials Config, initialMetadata Metadata) error

	// OpenStorage opens an existing wallet's storage container. Fails
	// with WalletNotFound.
	OpenStorage(ctx context.Context, id string, config, credentials Config) (Handle, error)

	// DeleteStorage removes a wallet's storage container entirely.
	// Fails with WalletNotFound.
	DeleteStorage(ctx context.Context, id string, config, credentials Config) error
}

// Factory constructs a Backend. Registry.Resolve invokes the registered
// factory on every call, so each resolution gets a fresh Backend.
type Factory func() Backend

// unknownStorageTypeError wraps ErrUnknownStorageType with the
// offending name, for the service layer to attach a suggestion to.
func unknownStorageTypeError(name string) error {
	return walleterr.WithDetails(walleterr.ErrUnknownStorageType, map[string]string{"storage_type": name})
}
