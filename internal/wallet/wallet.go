// Package wallet implements the Wallet capability (C5): CRUD and
// search over (type, name, value, tags) records, composing the
// storage backend (C1), key hierarchy (C2), encryption layer (C3), and
// query compiler (C4) behind a single record-oriented API. It also
// hosts the export/import codec (export.go, import.go), which needs
// unexported access to Wallet's full-scan iterator.
package wallet

import (
	"context"
	"encoding/base64"

	"github.com/mrz1836/sigilvault/internal/record"
	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/tagquery"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// Wallet is an open connection to one wallet's storage, authenticated
// by the Keys bundle unsealed at open time. The wallet service owns
// the Closed/Open/Closed lifecycle; Wallet itself just wraps the
// storage handle it was opened against.
type Wallet struct {
	id      string
	storage storage.Handle
	keys    *walletcrypto.Keys
}

// Open wraps an already-opened storage handle and unsealed Keys bundle
// into a Wallet. Callers (the wallet service) are responsible for the
// handle-registry bookkeeping around it.
func Open(id string, handle storage.Handle, keys *walletcrypto.Keys) *Wallet {
	return &Wallet{id: id, storage: handle, keys: keys}
}

// ID returns the wallet identifier this instance was opened under.
func (w *Wallet) ID() string { return w.id }

// Close releases the underlying storage handle.
func (w *Wallet) Close() error {
	return w.storage.Close()
}

// withItemDetails attaches the offending (type, name) pair to a
// storage-layer error, per spec.md §7's propagation policy: a bare
// ItemAlreadyExists/ItemNotFound from internal/storage is rewritten at
// the wallet boundary to carry the record it was about. A nil err
// passes through untouched.
func withItemDetails(err error, typ, name string) error {
	if err == nil {
		return nil
	}
	return walleterr.WithDetails(err, map[string]string{"type": typ, "name": name})
}

// Add encrypts and inserts a new record. Fails with ItemAlreadyExists
// if type+name is already present.
func (w *Wallet) Add(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	row, err := w.encodeRow(rec)
	if err != nil {
		return err
	}
	return withItemDetails(w.storage.Add(ctx, row), rec.Type, rec.Name)
}

// Update replaces the value of an existing record. Fails with ItemNotFound.
func (w *Wallet) Update(ctx context.Context, typ, name string, value []byte) error {
	typeCT, nameCT, err := w.encryptKey(typ, name)
	if err != nil {
		return err
	}
	valueCT, err := walletcrypto.EncryptRandom(value, w.keys.ValueKey)
	if err != nil {
		return err
	}
	return withItemDetails(w.storage.Update(ctx, typeCT, nameCT, valueCT), typ, name)
}

// AddTags merges tags into an existing record's tag set. Fails with ItemNotFound.
func (w *Wallet) AddTags(ctx context.Context, typ, name string, tags map[string]string) error {
	typeCT, nameCT, err := w.encryptKey(typ, name)
	if err != nil {
		return err
	}
	pairs, err := w.encryptTags(tags)
	if err != nil {
		return err
	}
	return withItemDetails(w.storage.AddTags(ctx, typeCT, nameCT, pairs), typ, name)
}

// UpdateTags replaces an existing record's entire tag set. Fails with ItemNotFound.
func (w *Wallet) UpdateTags(ctx context.Context, typ, name string, tags map[string]string) error {
	typeCT, nameCT, err := w.encryptKey(typ, name)
	if err != nil {
		return err
	}
	pairs, err := w.encryptTags(tags)
	if err != nil {
		return err
	}
	return withItemDetails(w.storage.UpdateTags(ctx, typeCT, nameCT, pairs), typ, name)
}

// DeleteTags removes the named tags from an existing record. Fails with ItemNotFound.
func (w *Wallet) DeleteTags(ctx context.Context, typ, name string, tagNames []string) error {
	typeCT, nameCT, err := w.encryptKey(typ, name)
	if err != nil {
		return err
	}

	storageNames := make([]string, len(tagNames))
	for i, n := range tagNames {
		if record.IsPlainTag(n) {
			storageNames[i] = n
			continue
		}
		enc, err := w.encryptDeterministic(n, w.keys.TagNameKey)
		if err != nil {
			return err
		}
		storageNames[i] = enc
	}

	return withItemDetails(w.storage.DeleteTags(ctx, typeCT, nameCT, storageNames), typ, name)
}

// Delete removes a record. Fails with ItemNotFound.
func (w *Wallet) Delete(ctx context.Context, typ, name string) error {
	typeCT, nameCT, err := w.encryptKey(typ, name)
	if err != nil {
		return err
	}
	return withItemDetails(w.storage.Delete(ctx, typeCT, nameCT), typ, name)
}

// Get retrieves a single record, honoring Options. Fails with ItemNotFound.
func (w *Wallet) Get(ctx context.Context, typ, name string, opts record.Options) (record.Record, error) {
	typeCT, nameCT, err := w.encryptKey(typ, name)
	if err != nil {
		return record.Record{}, err
	}

	row, err := w.storage.Get(ctx, typeCT, nameCT, storage.SearchOptions{
		RetrieveValue: opts.RetrieveValue,
		RetrieveTags:  opts.RetrieveTags,
	})
	if err != nil {
		return record.Record{}, withItemDetails(err, typ, name)
	}

	return w.decodeRow(row, typ, name, opts)
}

// RecordIterator yields decrypted records matching a Search call.
type RecordIterator struct {
	wallet *Wallet
	typ    string
	opts   record.Options
	rows   storage.RowIterator

	current record.Record
	err     error
}

// Next advances to the next matching record.
func (it *RecordIterator) Next(ctx context.Context) bool {
	if !it.rows.Next(ctx) {
		it.err = it.rows.Err()
		return false
	}

	name, err := it.wallet.decryptField(it.rows.Row().NameCiphertext, it.wallet.keys.NameKey)
	if err != nil {
		it.err = err
		return false
	}

	rec, err := it.wallet.decodeRow(it.rows.Row(), it.typ, name, it.opts)
	if err != nil {
		it.err = err
		return false
	}
	it.current = rec
	return true
}

// Record returns the current record. Valid only after a true Next.
func (it *RecordIterator) Record() record.Record { return it.current }

// TotalCount returns the total matching count if requested, else -1.
func (it *RecordIterator) TotalCount() int { return it.rows.TotalCount() }

// Err returns the first error encountered, if any.
func (it *RecordIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

// Close releases the iterator's storage resources.
func (it *RecordIterator) Close() error { return it.rows.Close() }

// Search compiles a tag query and returns a RecordIterator over
// matching records of the given type. Fails with QueryError if the
// query uses a range/substring operator on an encrypted tag.
func (w *Wallet) Search(ctx context.Context, typ string, query *tagquery.Query, opts record.SearchOptions) (*RecordIterator, error) {
	compiled, err := tagquery.Compile(query, w.keys)
	if err != nil {
		return nil, err
	}

	typeCT, err := walletcrypto.EncryptDeterministic([]byte(typ), w.keys.TypeKey, w.keys.TagsHMACKey)
	if err != nil {
		return nil, err
	}

	rows, err := w.storage.Search(ctx, typeCT, toStorageQuery(compiled), storage.SearchOptions{
		RetrieveValue:      opts.RetrieveValue,
		RetrieveTags:       opts.RetrieveTags,
		RetrieveTotalCount: opts.RetrieveTotalCount,
	})
	if err != nil {
		return nil, err
	}

	return &RecordIterator{wallet: w, typ: typ, opts: opts.Options, rows: rows}, nil
}

// searchAll walks every record in the wallet, fully decrypted,
// regardless of type. It is unexported: nothing outside this package's
// export/import codec (export.go, import.go) may call it, matching
// spec.md's Open Question resolution that search_all is not part of
// Wallet's exported surface.
func (w *Wallet) searchAll(ctx context.Context) (*fullRecordIterator, error) {
	rows, err := w.storage.SearchAll(ctx)
	if err != nil {
		return nil, err
	}
	return &fullRecordIterator{wallet: w, rows: rows}, nil
}

type fullRecordIterator struct {
	wallet  *Wallet
	rows    storage.RowIterator
	current record.Record
	err     error
}

func (it *fullRecordIterator) Next(ctx context.Context) bool {
	if !it.rows.Next(ctx) {
		it.err = it.rows.Err()
		return false
	}

	row := it.rows.Row()
	typ, err := it.wallet.decryptField(row.TypeCiphertext, it.wallet.keys.TypeKey)
	if err != nil {
		it.err = err
		return false
	}
	name, err := it.wallet.decryptField(row.NameCiphertext, it.wallet.keys.NameKey)
	if err != nil {
		it.err = err
		return false
	}
	value, err := it.wallet.decrypt(row.ValueCiphertext, it.wallet.keys.ValueKey)
	if err != nil {
		it.err = err
		return false
	}
	tags, err := it.wallet.decryptTags(row.Tags)
	if err != nil {
		it.err = err
		return false
	}

	it.current = record.Record{Type: typ, Name: name, Value: value, Tags: tags}
	return true
}

func (it *fullRecordIterator) Record() record.Record { return it.current }
func (it *fullRecordIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}
func (it *fullRecordIterator) Close() error { return it.rows.Close() }

func (w *Wallet) encodeRow(rec record.Record) (storage.Row, error) {
	typeCT, nameCT, err := w.encryptKey(rec.Type, rec.Name)
	if err != nil {
		return storage.Row{}, err
	}
	valueCT, err := walletcrypto.EncryptRandom(rec.Value, w.keys.ValueKey)
	if err != nil {
		return storage.Row{}, err
	}
	tags, err := w.encryptTags(rec.Tags)
	if err != nil {
		return storage.Row{}, err
	}
	return storage.Row{TypeCiphertext: typeCT, NameCiphertext: nameCT, ValueCiphertext: valueCT, Tags: tags}, nil
}

func (w *Wallet) decodeRow(row storage.Row, typ, name string, opts record.Options) (record.Record, error) {
	rec := record.Record{Name: name}
	if opts.RetrieveType {
		rec.Type = typ
	}
	if opts.RetrieveValue {
		value, err := w.decrypt(row.ValueCiphertext, w.keys.ValueKey)
		if err != nil {
			return record.Record{}, err
		}
		rec.Value = value
	}
	if opts.RetrieveTags {
		tags, err := w.decryptTags(row.Tags)
		if err != nil {
			return record.Record{}, err
		}
		rec.Tags = tags
	}
	return rec, nil
}

// encryptKey deterministically encrypts a record's type and name,
// returning raw ciphertext suitable for storage.Row's BLOB columns.
func (w *Wallet) encryptKey(typ, name string) (typeCT, nameCT []byte, err error) {
	typeCT, err = walletcrypto.EncryptDeterministic([]byte(typ), w.keys.TypeKey, w.keys.TagsHMACKey)
	if err != nil {
		return nil, nil, err
	}
	nameCT, err = walletcrypto.EncryptDeterministic([]byte(name), w.keys.NameKey, w.keys.TagsHMACKey)
	if err != nil {
		return nil, nil, err
	}
	return typeCT, nameCT, nil
}

// decrypt decrypts a record field and remaps any failure to
// InvalidState: by the time a record reaches this path its wallet has
// already authenticated with UnsealKeys, so a failing AEAD tag here
// means the stored ciphertext itself is corrupt, not a bad passphrase,
// per spec.md §7's "decryption failures on records surface as
// InvalidState" propagation rule.
func (w *Wallet) decrypt(ciphertext []byte, key *walletcrypto.SecureBytes) ([]byte, error) {
	plaintext, err := walletcrypto.Decrypt(ciphertext, key)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrInvalidState, "decrypting record field: %v", err)
	}
	return plaintext, nil
}

func (w *Wallet) decryptField(ciphertext []byte, key *walletcrypto.SecureBytes) (string, error) {
	plaintext, err := w.decrypt(ciphertext, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// encryptDeterministic encrypts a string deterministically and encodes
// the result as base64 text, the same representation the query
// compiler uses for encrypted tag names/values (internal/tagquery.Compile).
func (w *Wallet) encryptDeterministic(s string, key *walletcrypto.SecureBytes) (string, error) {
	ct, err := walletcrypto.EncryptDeterministic([]byte(s), key, w.keys.TagsHMACKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (w *Wallet) encryptTags(tags map[string]string) ([]storage.TagPair, error) {
	pairs := make([]storage.TagPair, 0, len(tags))
	for name, value := range tags {
		if record.IsPlainTag(name) {
			pairs = append(pairs, storage.TagPair{Name: name, Value: value, Plain: true})
			continue
		}

		nameCT, err := w.encryptDeterministic(name, w.keys.TagNameKey)
		if err != nil {
			return nil, err
		}
		valueCT, err := w.encryptDeterministic(value, w.keys.TagValueKey)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, storage.TagPair{Name: nameCT, Value: valueCT, Plain: false})
	}
	return pairs, nil
}

func (w *Wallet) decryptTags(pairs []storage.TagPair) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if pair.Plain {
			tags[pair.Name] = pair.Value
			continue
		}

		nameCT, err := base64.StdEncoding.DecodeString(pair.Name)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.ErrInvalidState, "decoding tag name: %v", err)
		}
		name, err := w.decrypt(nameCT, w.keys.TagNameKey)
		if err != nil {
			return nil, err
		}

		valueCT, err := base64.StdEncoding.DecodeString(pair.Value)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.ErrInvalidState, "decoding tag value: %v", err)
		}
		value, err := w.decrypt(valueCT, w.keys.TagValueKey)
		if err != nil {
			return nil, err
		}

		tags[string(name)] = string(value)
	}
	return tags, nil
}

// toStorageQuery converts a compiled tagquery.Query tree into the
// storage package's local CompiledQuery mirror, avoiding a
// storage->tagquery import cycle.
func toStorageQuery(q *tagquery.Query) *storage.CompiledQuery {
	if q == nil {
		return nil
	}

	sq := &storage.CompiledQuery{
		Op:     int(q.Op),
		Name:   q.Name,
		Value:  q.Value,
		Values: q.Values,
	}
	for _, sub := range q.Sub {
		sq.Sub = append(sq.Sub, toStorageQuery(sub))
	}
	return sq
}
