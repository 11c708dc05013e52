// Package sqlitestore implements the default ("default") storage
// backend as an embedded SQL store, one file per wallet, using
// modernc.org/sqlite (a CGO-free SQLite driver) through database/sql.
package sqlitestore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/mrz1836/sigilvault/internal/storage"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	sealed_keys BLOB NOT NULL,
	salt        BLOB
);
CREATE TABLE IF NOT EXISTS items (
	type_ct  BLOB NOT NULL,
	name_ct  BLOB NOT NULL,
	value_ct BLOB NOT NULL,
	PRIMARY KEY (type_ct, name_ct)
);
CREATE TABLE IF NOT EXISTS tags (
	type_ct   BLOB NOT NULL,
	name_ct   BLOB NOT NULL,
	tag_name  TEXT NOT NULL,
	tag_value TEXT NOT NULL,
	plain     INTEGER NOT NULL,
	PRIMARY KEY (type_ct, name_ct, tag_name),
	FOREIGN KEY (type_ct, name_ct) REFERENCES items(type_ct, name_ct) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tags_lookup ON tags(type_ct, name_ct);
`

// Backend is the embedded SQLite storage backend.
type Backend struct {
	basePath string
}

// New returns a Factory for the default embedded SQLite backend,
// rooting wallet files under basePath unless a wallet's storage_config
// carries its own "path" entry.
func New(basePath string) storage.Factory {
	return func() storage.Backend {
		return &Backend{basePath: basePath}
	}
}

func (b *Backend) resolvePath(id string, config storage.Config) string {
	dir := b.basePath
	if p, ok := config["path"].(string); ok && p != "" {
		dir = p
	}
	return filepath.Join(dir, id+".sqlite")
}

// CreateStorage provisions a new wallet database file and schema.
func (b *Backend) CreateStorage(_ context.Context, id string, config, _ storage.Config, initialMetadata storage.Metadata) error {
	path := b.resolvePath(id, config)

	if _, err := os.Stat(path); err == nil {
		return walleterr.ErrWalletAlreadyExists
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "creating wallet directory: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "opening wallet database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(schema); err != nil {
		_ = os.Remove(path)
		return walleterr.Wrap(walleterr.ErrIO, "creating wallet schema: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO metadata (id, sealed_keys, salt) VALUES (1, ?, ?)`,
		initialMetadata.SealedKeys, nullableBlob(initialMetadata.Salt)); err != nil {
		_ = os.Remove(path)
		return walleterr.Wrap(walleterr.ErrIO, "writing initial metadata: %v", err)
	}

	_ = os.Chmod(path, filePermissions)
	return nil
}

// OpenStorage opens an existing wallet database file.
func (b *Backend) OpenStorage(_ context.Context, id string, config, _ storage.Config) (storage.Handle, error) {
	path := b.resolvePath(id, config)

	if _, err := os.Stat(path); err != nil {
		return nil, walleterr.ErrWalletNotFound
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "opening wallet database: %v", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid lock contention

	return &handle{db: db}, nil
}

// DeleteStorage removes a wallet's database file entirely.
func (b *Backend) DeleteStorage(_ context.Context, id string, config, _ storage.Config) error {
	path := b.resolvePath(id, config)

	if _, err := os.Stat(path); err != nil {
		return walleterr.ErrWalletNotFound
	}

	if err := os.Remove(path); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "removing wallet database: %v", err)
	}
	return nil
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
