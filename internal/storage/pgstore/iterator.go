package pgstore

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mrz1836/sigilvault/internal/storage"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// filteringIterator mirrors sqlitestore's row-at-a-time evaluator: it
// loads every candidate row's tags and tests the compiled query in Go
// rather than building a dynamic SQL predicate, keeping the single
// evaluation path shared in spirit across both backends.
type filteringIterator struct {
	ctx    context.Context
	h      *handle
	rows   pgx.Rows
	typeCT []byte
	query  *storage.CompiledQuery
	opts   storage.SearchOptions

	current    storage.Row
	totalCount int
	countKnown bool
	err        error
}

func newFilteringIterator(ctx context.Context, h *handle, rows pgx.Rows, typeCT []byte, query *storage.CompiledQuery, opts storage.SearchOptions) (*filteringIterator, error) {
	it := &filteringIterator{ctx: ctx, h: h, rows: rows, typeCT: typeCT, query: query, opts: opts}
	if opts.RetrieveTotalCount {
		if err := it.computeTotalCount(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *filteringIterator) computeTotalCount() error {
	rows, err := it.h.pool.Query(it.ctx,
		`SELECT name_ct, value_ct FROM wallet_items WHERE wallet_id = $1 AND type_ct = $2`, it.h.walletID, it.typeCT)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "counting matches: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var nameCT, valueCT []byte
		if err := rows.Scan(&nameCT, &valueCT); err != nil {
			return walleterr.Wrap(walleterr.ErrIO, "scanning count row: %v", err)
		}
		tags, err := it.h.loadTags(it.ctx, it.typeCT, nameCT)
		if err != nil {
			return err
		}
		if evaluate(it.query, tags) {
			count++
		}
	}
	it.totalCount = count
	it.countKnown = true
	return rows.Err()
}

func (it *filteringIterator) Next(ctx context.Context) bool {
	for it.rows.Next() {
		var nameCT, valueCT []byte
		if err := it.rows.Scan(&nameCT, &valueCT); err != nil {
			it.err = walleterr.Wrap(walleterr.ErrIO, "scanning search row: %v", err)
			return false
		}

		tags, err := it.h.loadTags(ctx, it.typeCT, nameCT)
		if err != nil {
			it.err = err
			return false
		}

		if !evaluate(it.query, tags) {
			continue
		}

		row := storage.Row{TypeCiphertext: it.typeCT, NameCiphertext: nameCT}
		if it.opts.RetrieveValue {
			row.ValueCiphertext = valueCT
		}
		if it.opts.RetrieveTags {
			row.Tags = tags
		}
		it.current = row
		return true
	}
	if err := it.rows.Err(); err != nil {
		it.err = walleterr.Wrap(walleterr.ErrIO, "iterating search rows: %v", err)
	}
	return false
}

func (it *filteringIterator) Row() storage.Row { return it.current }

func (it *filteringIterator) TotalCount() int {
	if !it.countKnown {
		return -1
	}
	return it.totalCount
}

func (it *filteringIterator) Err() error { return it.err }

func (it *filteringIterator) Close() error { it.rows.Close(); return nil }

// fullIterator walks every row in a wallet unconditionally, for the
// export codec.
type fullIterator struct {
	ctx     context.Context
	h       *handle
	rows    pgx.Rows
	current storage.Row
	err     error
}

func newFullIterator(ctx context.Context, h *handle, rows pgx.Rows) *fullIterator {
	return &fullIterator{ctx: ctx, h: h, rows: rows}
}

func (it *fullIterator) Next(ctx context.Context) bool {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = walleterr.Wrap(walleterr.ErrIO, "iterating all rows: %v", err)
		}
		return false
	}

	var typeCT, nameCT, valueCT []byte
	if err := it.rows.Scan(&typeCT, &nameCT, &valueCT); err != nil {
		it.err = walleterr.Wrap(walleterr.ErrIO, "scanning row: %v", err)
		return false
	}

	tags, err := it.h.loadTags(ctx, typeCT, nameCT)
	if err != nil {
		it.err = err
		return false
	}

	it.current = storage.Row{TypeCiphertext: typeCT, NameCiphertext: nameCT, ValueCiphertext: valueCT, Tags: tags}
	return true
}

func (it *fullIterator) Row() storage.Row { return it.current }
func (it *fullIterator) TotalCount() int  { return -1 }
func (it *fullIterator) Err() error       { return it.err }
func (it *fullIterator) Close() error     { it.rows.Close(); return nil }

// evaluate applies a compiled tag query against one row's tag set. Op
// values mirror tagquery.Op's ordering (Eq, Neq, Gt, Gte, Lt, Lte,
// Like, In, And, Or, Not); this package holds no import on
// internal/tagquery, so the constants are redeclared locally.
func evaluate(q *storage.CompiledQuery, tags []storage.TagPair) bool {
	if q == nil {
		return true
	}
	switch q.Op {
	case opEq:
		return hasTag(tags, q.Name, func(v string) bool { return v == q.Value })
	case opNeq:
		return !hasTag(tags, q.Name, func(v string) bool { return v == q.Value })
	case opGt:
		return hasTag(tags, q.Name, func(v string) bool { return v > q.Value })
	case opGte:
		return hasTag(tags, q.Name, func(v string) bool { return v >= q.Value })
	case opLt:
		return hasTag(tags, q.Name, func(v string) bool { return v < q.Value })
	case opLte:
		return hasTag(tags, q.Name, func(v string) bool { return v <= q.Value })
	case opLike:
		return hasTag(tags, q.Name, func(v string) bool { return likeMatch(q.Value, v) })
	case opIn:
		return hasTag(tags, q.Name, func(v string) bool { return contains(q.Values, v) })
	case opAnd:
		for _, sub := range q.Sub {
			if !evaluate(sub, tags) {
				return false
			}
		}
		return true
	case opOr:
		for _, sub := range q.Sub {
			if evaluate(sub, tags) {
				return true
			}
		}
		return false
	case opNot:
		if len(q.Sub) != 1 {
			return false
		}
		return !evaluate(q.Sub[0], tags)
	default:
		return false
	}
}

func hasTag(tags []storage.TagPair, name string, match func(string) bool) bool {
	for _, tag := range tags {
		if tag.Name == name && match(tag.Value) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func likeMatch(pattern, value string) bool {
	return globMatch(translateLikePattern(pattern), value)
}

func translateLikePattern(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteRune('*')
		case '_':
			b.WriteRune('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func globMatch(pattern, value string) bool {
	if pattern == "" {
		return value == ""
	}
	switch pattern[0] {
	case '*':
		if globMatch(pattern[1:], value) {
			return true
		}
		for i := 0; i < len(value); i++ {
			if globMatch(pattern[1:], value[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if value == "" {
			return false
		}
		return globMatch(pattern[1:], value[1:])
	default:
		if value == "" || value[0] != pattern[0] {
			return false
		}
		return globMatch(pattern[1:], value[1:])
	}
}

const (
	opEq = iota
	opNeq
	opGt
	opGte
	opLt
	opLte
	opLike
	opIn
	opAnd
	opOr
	opNot
)
