// Package pgstore implements the "postgres" storage backend: a
// remote, multi-tenant SQL store where every wallet's rows share the
// same tables, distinguished by a wallet_id column, rather than the
// one-file-per-wallet layout sqlitestore uses.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mrz1836/sigilvault/internal/storage"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS wallet_metadata (
	wallet_id   TEXT PRIMARY KEY,
	sealed_keys BYTEA NOT NULL,
	salt        BYTEA
);
CREATE TABLE IF NOT EXISTS wallet_items (
	wallet_id TEXT NOT NULL,
	type_ct   BYTEA NOT NULL,
	name_ct   BYTEA NOT NULL,
	value_ct  BYTEA NOT NULL,
	PRIMARY KEY (wallet_id, type_ct, name_ct)
);
CREATE TABLE IF NOT EXISTS wallet_tags (
	wallet_id TEXT NOT NULL,
	type_ct   BYTEA NOT NULL,
	name_ct   BYTEA NOT NULL,
	tag_name  TEXT NOT NULL,
	tag_value TEXT NOT NULL,
	plain     BOOLEAN NOT NULL,
	PRIMARY KEY (wallet_id, type_ct, name_ct, tag_name)
);
CREATE INDEX IF NOT EXISTS idx_wallet_tags_lookup ON wallet_tags(wallet_id, type_ct, name_ct);
`

// Backend is the remote Postgres storage backend. A single Backend
// instance may back many open wallets, each addressed by wallet_id
// within the shared tables.
type Backend struct{}

// New returns a Factory for the "postgres" backend.
func New() storage.Factory {
	return func() storage.Backend { return &Backend{} }
}

func dsn(config, credentials storage.Config) (string, error) {
	if v, ok := credentials["dsn"].(string); ok && v != "" {
		return v, nil
	}
	if v, ok := config["dsn"].(string); ok && v != "" {
		return v, nil
	}
	return "", walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{
		"reason": "postgres storage requires a \"dsn\" entry in storage_credentials or storage_config",
	})
}

func connect(ctx context.Context, config, credentials storage.Config) (*pgxpool.Pool, error) {
	connString, err := dsn(config, credentials)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "connecting to postgres: %v", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, walleterr.Wrap(walleterr.ErrIO, "ensuring postgres schema: %v", err)
	}
	return pool, nil
}

// CreateStorage provisions a new wallet's rows inside the shared schema.
func (b *Backend) CreateStorage(ctx context.Context, id string, config, credentials storage.Config, initialMetadata storage.Metadata) error {
	pool, err := connect(ctx, config, credentials)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, err = pool.Exec(ctx,
		`INSERT INTO wallet_metadata (wallet_id, sealed_keys, salt) VALUES ($1, $2, $3)`,
		id, initialMetadata.SealedKeys, nullableBytes(initialMetadata.Salt))
	if err != nil {
		if isUniqueViolation(err) {
			return walleterr.ErrWalletAlreadyExists
		}
		return walleterr.Wrap(walleterr.ErrIO, "inserting wallet metadata: %v", err)
	}
	return nil
}

// OpenStorage opens a handle scoped to an existing wallet_id.
func (b *Backend) OpenStorage(ctx context.Context, id string, config, credentials storage.Config) (storage.Handle, error) {
	pool, err := connect(ctx, config, credentials)
	if err != nil {
		return nil, err
	}

	var exists bool
	err = pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wallet_metadata WHERE wallet_id = $1)`, id).Scan(&exists)
	if err != nil {
		pool.Close()
		return nil, walleterr.Wrap(walleterr.ErrIO, "checking wallet existence: %v", err)
	}
	if !exists {
		pool.Close()
		return nil, walleterr.ErrWalletNotFound
	}

	return &handle{pool: pool, walletID: id}, nil
}

// DeleteStorage removes every row belonging to a wallet_id.
func (b *Backend) DeleteStorage(ctx context.Context, id string, config, credentials storage.Config) error {
	pool, err := connect(ctx, config, credentials)
	if err != nil {
		return err
	}
	defer pool.Close()

	tag, err := pool.Exec(ctx, `DELETE FROM wallet_metadata WHERE wallet_id = $1`, id)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "deleting wallet metadata: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return walleterr.ErrWalletNotFound
	}

	if _, err := pool.Exec(ctx, `DELETE FROM wallet_items WHERE wallet_id = $1`, id); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "deleting wallet items: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM wallet_tags WHERE wallet_id = $1`, id); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "deleting wallet tags: %v", err)
	}
	return nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
