package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mrz1836/sigilvault/internal/storage"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

type handle struct {
	pool     *pgxpool.Pool
	walletID string
}

func (h *handle) Add(ctx context.Context, row storage.Row) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_items (wallet_id, type_ct, name_ct, value_ct) VALUES ($1, $2, $3, $4)`,
		h.walletID, row.TypeCiphertext, row.NameCiphertext, row.ValueCiphertext)
	if err != nil {
		if isUniqueViolation(err) {
			return walleterr.ErrItemAlreadyExists
		}
		return walleterr.Wrap(walleterr.ErrIO, "inserting item: %v", err)
	}

	if err := insertTags(ctx, tx, h.walletID, row.TypeCiphertext, row.NameCiphertext, row.Tags); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing add: %v", err)
	}
	return nil
}

func (h *handle) Update(ctx context.Context, typeCT, nameCT, valueCT []byte) error {
	tag, err := h.pool.Exec(ctx,
		`UPDATE wallet_items SET value_ct = $1 WHERE wallet_id = $2 AND type_ct = $3 AND name_ct = $4`,
		valueCT, h.walletID, typeCT, nameCT)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "updating item: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return walleterr.ErrItemNotFound
	}
	return nil
}

func (h *handle) AddTags(ctx context.Context, typeCT, nameCT []byte, tags []storage.TagPair) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.requireItemExists(ctx, tx, typeCT, nameCT); err != nil {
		return err
	}
	if err := insertTags(ctx, tx, h.walletID, typeCT, nameCT, tags); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing add-tags: %v", err)
	}
	return nil
}

func (h *handle) UpdateTags(ctx context.Context, typeCT, nameCT []byte, tags []storage.TagPair) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.requireItemExists(ctx, tx, typeCT, nameCT); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM wallet_tags WHERE wallet_id = $1 AND type_ct = $2 AND name_ct = $3`,
		h.walletID, typeCT, nameCT); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "clearing tags: %v", err)
	}
	if err := insertTags(ctx, tx, h.walletID, typeCT, nameCT, tags); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing update-tags: %v", err)
	}
	return nil
}

func (h *handle) DeleteTags(ctx context.Context, typeCT, nameCT []byte, tagNames []string) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "beginning transaction: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.requireItemExists(ctx, tx, typeCT, nameCT); err != nil {
		return err
	}
	for _, name := range tagNames {
		if _, err := tx.Exec(ctx,
			`DELETE FROM wallet_tags WHERE wallet_id = $1 AND type_ct = $2 AND name_ct = $3 AND tag_name = $4`,
			h.walletID, typeCT, nameCT, name); err != nil {
			return walleterr.Wrap(walleterr.ErrIO, "deleting tag: %v", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "committing delete-tags: %v", err)
	}
	return nil
}

func (h *handle) Delete(ctx context.Context, typeCT, nameCT []byte) error {
	tag, err := h.pool.Exec(ctx,
		`DELETE FROM wallet_items WHERE wallet_id = $1 AND type_ct = $2 AND name_ct = $3`,
		h.walletID, typeCT, nameCT)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "deleting item: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return walleterr.ErrItemNotFound
	}
	_, _ = h.pool.Exec(ctx, `DELETE FROM wallet_tags WHERE wallet_id = $1 AND type_ct = $2 AND name_ct = $3`,
		h.walletID, typeCT, nameCT)
	return nil
}

func (h *handle) Get(ctx context.Context, typeCT, nameCT []byte, opts storage.SearchOptions) (storage.Row, error) {
	var valueCT []byte
	err := h.pool.QueryRow(ctx,
		`SELECT value_ct FROM wallet_items WHERE wallet_id = $1 AND type_ct = $2 AND name_ct = $3`,
		h.walletID, typeCT, nameCT).Scan(&valueCT)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Row{}, walleterr.ErrItemNotFound
	}
	if err != nil {
		return storage.Row{}, walleterr.Wrap(walleterr.ErrIO, "reading item: %v", err)
	}

	row := storage.Row{TypeCiphertext: typeCT, NameCiphertext: nameCT}
	if opts.RetrieveValue {
		row.ValueCiphertext = valueCT
	}
	if opts.RetrieveTags {
		tags, err := h.loadTags(ctx, typeCT, nameCT)
		if err != nil {
			return storage.Row{}, err
		}
		row.Tags = tags
	}
	return row, nil
}

func (h *handle) Search(ctx context.Context, typeCT []byte, query *storage.CompiledQuery, opts storage.SearchOptions) (storage.RowIterator, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT name_ct, value_ct FROM wallet_items WHERE wallet_id = $1 AND type_ct = $2 ORDER BY name_ct`,
		h.walletID, typeCT)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "searching items: %v", err)
	}
	return newFilteringIterator(ctx, h, rows, typeCT, query, opts)
}

func (h *handle) SearchAll(ctx context.Context) (storage.RowIterator, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT type_ct, name_ct, value_ct FROM wallet_items WHERE wallet_id = $1 ORDER BY type_ct, name_ct`, h.walletID)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "scanning all items: %v", err)
	}
	return newFullIterator(ctx, h, rows), nil
}

func (h *handle) GetStorageMetadata(ctx context.Context) (storage.Metadata, error) {
	var md storage.Metadata
	var salt nullBytes
	err := h.pool.QueryRow(ctx, `SELECT sealed_keys, salt FROM wallet_metadata WHERE wallet_id = $1`, h.walletID).
		Scan(&md.SealedKeys, &salt)
	if err != nil {
		return storage.Metadata{}, walleterr.Wrap(walleterr.ErrIO, "reading metadata: %v", err)
	}
	if salt.Valid {
		md.Salt = salt.Bytes
	}
	return md, nil
}

func (h *handle) SetStorageMetadata(ctx context.Context, md storage.Metadata) error {
	_, err := h.pool.Exec(ctx, `UPDATE wallet_metadata SET sealed_keys = $1, salt = $2 WHERE wallet_id = $3`,
		md.SealedKeys, nullableBytes(md.Salt), h.walletID)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "writing metadata: %v", err)
	}
	return nil
}

func (h *handle) Close() error {
	h.pool.Close()
	return nil
}

func (h *handle) requireItemExists(ctx context.Context, tx pgx.Tx, typeCT, nameCT []byte) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM wallet_items WHERE wallet_id = $1 AND type_ct = $2 AND name_ct = $3)`,
		h.walletID, typeCT, nameCT).Scan(&exists)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "checking item existence: %v", err)
	}
	if !exists {
		return walleterr.ErrItemNotFound
	}
	return nil
}

func (h *handle) loadTags(ctx context.Context, typeCT, nameCT []byte) ([]storage.TagPair, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT tag_name, tag_value, plain FROM wallet_tags WHERE wallet_id = $1 AND type_ct = $2 AND name_ct = $3`,
		h.walletID, typeCT, nameCT)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "reading tags: %v", err)
	}
	defer rows.Close()

	var tags []storage.TagPair
	for rows.Next() {
		var tag storage.TagPair
		if err := rows.Scan(&tag.Name, &tag.Value, &tag.Plain); err != nil {
			return nil, walleterr.Wrap(walleterr.ErrIO, "scanning tag: %v", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func insertTags(ctx context.Context, tx pgx.Tx, walletID string, typeCT, nameCT []byte, tags []storage.TagPair) error {
	for _, tag := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_tags (wallet_id, type_ct, name_ct, tag_name, tag_value, plain)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (wallet_id, type_ct, name_ct, tag_name) DO UPDATE SET tag_value = EXCLUDED.tag_value, plain = EXCLUDED.plain`,
			walletID, typeCT, nameCT, tag.Name, tag.Value, tag.Plain); err != nil {
			return walleterr.Wrap(walleterr.ErrIO, "inserting tag: %v", err)
		}
	}
	return nil
}

// nullBytes avoids importing database/sql solely for a Null[T]
// reader; pgx's own Scan path accepts a matching struct directly.
type nullBytes struct {
	Bytes []byte
	Valid bool
}

func (n *nullBytes) Scan(src any) error {
	if src == nil {
		n.Bytes, n.Valid = nil, false
		return nil
	}
	switch v := src.(type) {
	case []byte:
		n.Bytes = append([]byte(nil), v...)
	default:
		return errors.New("pgstore: unsupported scan source for salt column")
	}
	n.Valid = true
	return nil
}
