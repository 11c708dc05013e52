package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mrz1836/sigilvault/internal/storage"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

type handle struct {
	db *sql.DB
}

func (h *handle) Add(ctx context.Context, row storage.Row) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO items (type_ct, name_ct, value_ct) VALUES (?, ?, ?)`,
		row.TypeCiphertext, row.NameCiphertext, row.ValueCiphertext); err != nil {
		if isUniqueViolation(err) {
			return walleterr.ErrItemAlreadyExists
		}
		return walleterr.Wrap(walleterr.ErrIO, "inserting item: %v", err)
	}

	if err := insertTags(ctx, tx, row.TypeCiphertext, row.NameCiphertext, row.Tags); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing add: %v", err)
	}
	return nil
}

func (h *handle) Update(ctx context.Context, typeCT, nameCT, valueCT []byte) error {
	res, err := h.db.ExecContext(ctx,
		`UPDATE items SET value_ct = ? WHERE type_ct = ? AND name_ct = ?`, valueCT, typeCT, nameCT)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "updating item: %v", err)
	}
	return requireRowsAffected(res)
}

func (h *handle) AddTags(ctx context.Context, typeCT, nameCT []byte, tags []storage.TagPair) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireItemExists(ctx, tx, typeCT, nameCT); err != nil {
		return err
	}
	if err := insertTags(ctx, tx, typeCT, nameCT, tags); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing add-tags: %v", err)
	}
	return nil
}

func (h *handle) UpdateTags(ctx context.Context, typeCT, nameCT []byte, tags []storage.TagPair) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireItemExists(ctx, tx, typeCT, nameCT); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE type_ct = ? AND name_ct = ?`, typeCT, nameCT); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "clearing tags: %v", err)
	}
	if err := insertTags(ctx, tx, typeCT, nameCT, tags); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing update-tags: %v", err)
	}
	return nil
}

func (h *handle) DeleteTags(ctx context.Context, typeCT, nameCT []byte, tagNames []string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireItemExists(ctx, tx, typeCT, nameCT); err != nil {
		return err
	}
	for _, name := range tagNames {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tags WHERE type_ct = ? AND name_ct = ? AND tag_name = ?`, typeCT, nameCT, name); err != nil {
			return walleterr.Wrap(walleterr.ErrIO, "deleting tag: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing delete-tags: %v", err)
	}
	return nil
}

func (h *handle) Delete(ctx context.Context, typeCT, nameCT []byte) error {
	res, err := h.db.ExecContext(ctx, `DELETE FROM items WHERE type_ct = ? AND name_ct = ?`, typeCT, nameCT)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "deleting item: %v", err)
	}
	if err := requireRowsAffected(res); err != nil {
		return err
	}
	_, _ = h.db.ExecContext(ctx, `DELETE FROM tags WHERE type_ct = ? AND name_ct = ?`, typeCT, nameCT)
	return nil
}

func (h *handle) Get(ctx context.Context, typeCT, nameCT []byte, opts storage.SearchOptions) (storage.Row, error) {
	var row storage.Row
	var valueCT []byte
	err := h.db.QueryRowContext(ctx,
		`SELECT value_ct FROM items WHERE type_ct = ? AND name_ct = ?`, typeCT, nameCT).Scan(&valueCT)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Row{}, walleterr.ErrItemNotFound
	}
	if err != nil {
		return storage.Row{}, walleterr.Wrap(walleterr.ErrIO, "reading item: %v", err)
	}

	row.TypeCiphertext = typeCT
	row.NameCiphertext = nameCT
	if opts.RetrieveValue {
		row.ValueCiphertext = valueCT
	}
	if opts.RetrieveTags {
		tags, err := loadTags(ctx, h.db, typeCT, nameCT)
		if err != nil {
			return storage.Row{}, err
		}
		row.Tags = tags
	}
	return row, nil
}

func (h *handle) Search(ctx context.Context, typeCT []byte, query *storage.CompiledQuery, opts storage.SearchOptions) (storage.RowIterator, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT name_ct, value_ct FROM items WHERE type_ct = ? ORDER BY name_ct`, typeCT)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "searching items: %v", err)
	}
	return newFilteringIterator(ctx, h.db, rows, typeCT, query, opts)
}

func (h *handle) SearchAll(ctx context.Context) (storage.RowIterator, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT type_ct, name_ct, value_ct FROM items ORDER BY type_ct, name_ct`)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "scanning all items: %v", err)
	}
	return newFullIterator(ctx, h.db, rows), nil
}

func (h *handle) GetStorageMetadata(ctx context.Context) (storage.Metadata, error) {
	var md storage.Metadata
	var salt sql.Null[[]byte]
	err := h.db.QueryRowContext(ctx, `SELECT sealed_keys, salt FROM metadata WHERE id = 1`).Scan(&md.SealedKeys, &salt)
	if err != nil {
		return storage.Metadata{}, walleterr.Wrap(walleterr.ErrIO, "reading metadata: %v", err)
	}
	if salt.Valid {
		md.Salt = salt.V
	}
	return md, nil
}

func (h *handle) SetStorageMetadata(ctx context.Context, md storage.Metadata) error {
	_, err := h.db.ExecContext(ctx, `UPDATE metadata SET sealed_keys = ?, salt = ? WHERE id = 1`,
		md.SealedKeys, nullableBlob(md.Salt))
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "writing metadata: %v", err)
	}
	return nil
}

func (h *handle) Close() error {
	return h.db.Close()
}

func insertTags(ctx context.Context, tx *sql.Tx, typeCT, nameCT []byte, tags []storage.TagPair) error {
	for _, tag := range tags {
		plain := 0
		if tag.Plain {
			plain = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO tags (type_ct, name_ct, tag_name, tag_value, plain) VALUES (?, ?, ?, ?, ?)`,
			typeCT, nameCT, tag.Name, tag.Value, plain); err != nil {
			return walleterr.Wrap(walleterr.ErrIO, "inserting tag: %v", err)
		}
	}
	return nil
}

func loadTags(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, typeCT, nameCT []byte) ([]storage.TagPair, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT tag_name, tag_value, plain FROM tags WHERE type_ct = ? AND name_ct = ?`, typeCT, nameCT)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "reading tags: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []storage.TagPair
	for rows.Next() {
		var tag storage.TagPair
		var plain int
		if err := rows.Scan(&tag.Name, &tag.Value, &plain); err != nil {
			return nil, walleterr.Wrap(walleterr.ErrIO, "scanning tag: %v", err)
		}
		tag.Plain = plain != 0
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func requireItemExists(ctx context.Context, tx *sql.Tx, typeCT, nameCT []byte) error {
	var exists int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM items WHERE type_ct = ? AND name_ct = ?`, typeCT, nameCT).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return walleterr.ErrItemNotFound
	}
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "checking item existence: %v", err)
	}
	return nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "reading rows affected: %v", err)
	}
	if n == 0 {
		return walleterr.ErrItemNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
