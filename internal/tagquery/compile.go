package tagquery

import (
	"encoding/base64"

	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// Compile walks a plaintext query tree and emits an equivalent tree
// over encrypted tag names and values, per §4.4's transformation
// table. Plain-tag leaves (name prefixed `~`) pass through unchanged so
// the backend can route them to the plain-tag column. The compiler is
// pure: it never touches storage.
func Compile(q *Query, keys *walletcrypto.Keys) (*Query, error) {
	if q == nil {
		return nil, nil
	}

	switch q.Op {
	case OpAnd, OpOr, OpNot:
		return compileBoolean(q, keys)
	case OpEq, OpNeq, OpIn:
		return compileEqualityLeaf(q, keys)
	case OpGt, OpGte, OpLt, OpLte, OpLike:
		return compileRangeLeaf(q, keys)
	default:
		return nil, walleterr.ErrQuery
	}
}

func compileBoolean(q *Query, keys *walletcrypto.Keys) (*Query, error) {
	sub := make([]*Query, len(q.Sub))
	for i, s := range q.Sub {
		compiled, err := Compile(s, keys)
		if err != nil {
			return nil, err
		}
		sub[i] = compiled
	}
	return &Query{Op: q.Op, Sub: sub}, nil
}

// compileEqualityLeaf handles Eq/Neq/In, which are supported on both
// plain and encrypted tags (equality survives deterministic encryption).
func compileEqualityLeaf(q *Query, keys *walletcrypto.Keys) (*Query, error) {
	if q.IsPlainLeaf() {
		return q, nil
	}

	encName, err := encryptTagName(q.Name, keys)
	if err != nil {
		return nil, err
	}

	if q.Op == OpIn {
		encValues := make([]string, len(q.Values))
		for i, v := range q.Values {
			ev, err := encryptTagValue(v, keys)
			if err != nil {
				return nil, err
			}
			encValues[i] = ev
		}
		return In(encName, encValues), nil
	}

	encValue, err := encryptTagValue(q.Value, keys)
	if err != nil {
		return nil, err
	}

	return &Query{Op: q.Op, Name: encName, Value: encValue}, nil
}

// compileRangeLeaf handles Gt/Gte/Lt/Lte/Like, which are only
// supported on plain tags: deterministic ciphertext carries no order
// or substring structure.
func compileRangeLeaf(q *Query, keys *walletcrypto.Keys) (*Query, error) {
	if q.IsPlainLeaf() {
		return q, nil
	}
	return nil, walleterr.WithDetails(walleterr.ErrQuery, map[string]string{
		"tag":       q.Name,
		"operation": opSymbol(q.Op),
		"reason":    "range/substring operators require a plain (~) tag",
	})
}

func encryptTagName(name string, keys *walletcrypto.Keys) (string, error) {
	ct, err := walletcrypto.EncryptDeterministic([]byte(name), keys.TagNameKey, keys.TagsHMACKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func encryptTagValue(value string, keys *walletcrypto.Keys) (string, error) {
	ct, err := walletcrypto.EncryptDeterministic([]byte(value), keys.TagValueKey, keys.TagsHMACKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
