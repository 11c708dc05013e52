// Package tagquery implements the structured tag-query compiler: it
// parses a plaintext query tree, walks it, and emits an equivalent
// tree over encrypted tag names and values for the storage backend to
// evaluate against ciphertext rows.
package tagquery

import (
	"encoding/json"
	"fmt"
	"sort"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// Op identifies the kind of a query node.
type Op int

// Node kinds, matching §4.4's grammar.
const (
	OpEq Op = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpLike
	OpIn
	OpAnd
	OpOr
	OpNot
)

// Query is one node of a structured tag-query tree. Leaf nodes
// reference a tag Name (a leading `~` marks a plain-tag reference) and
// carry either a single Value or a Values set (for In). Boolean nodes
// carry Sub (And/Or) or a single Sub[0] (Not).
type Query struct {
	Op     Op
	Name   string
	Value  string
	Values []string
	Sub    []*Query
}

// Eq builds an equality leaf: tag Name equals Value.
func Eq(name, value string) *Query { return &Query{Op: OpEq, Name: name, Value: value} }

// Neq builds an inequality leaf.
func Neq(name, value string) *Query { return &Query{Op: OpNeq, Name: name, Value: value} }

// Gt builds a greater-than leaf (plain tags only).
func Gt(name, value string) *Query { return &Query{Op: OpGt, Name: name, Value: value} }

// Gte builds a greater-than-or-equal leaf (plain tags only).
func Gte(name, value string) *Query { return &Query{Op: OpGte, Name: name, Value: value} }

// Lt builds a less-than leaf (plain tags only).
func Lt(name, value string) *Query { return &Query{Op: OpLt, Name: name, Value: value} }

// Lte builds a less-than-or-equal leaf (plain tags only).
func Lte(name, value string) *Query { return &Query{Op: OpLte, Name: name, Value: value} }

// Like builds a pattern-match leaf (plain tags only).
func Like(name, pattern string) *Query { return &Query{Op: OpLike, Name: name, Value: pattern} }

// In builds a set-membership leaf.
func In(name string, values []string) *Query { return &Query{Op: OpIn, Name: name, Values: values} }

// And builds a conjunction. An empty And evaluates to true.
func And(qs ...*Query) *Query { return &Query{Op: OpAnd, Sub: qs} }

// Or builds a disjunction. An empty Or evaluates to false.
func Or(qs ...*Query) *Query { return &Query{Op: OpOr, Sub: qs} }

// Not builds a negation.
func Not(q *Query) *Query { return &Query{Op: OpNot, Sub: []*Query{q}} }

// IsPlainLeaf reports whether a leaf node references a plain tag.
func (q *Query) IsPlainLeaf() bool {
	return len(q.Name) > 0 && q.Name[0] == '~'
}

// String renders the query tree for diagnostics and log lines.
func (q *Query) String() string {
	switch q.Op {
	case OpAnd:
		return combinatorString("$and", q.Sub)
	case OpOr:
		return combinatorString("$or", q.Sub)
	case OpNot:
		return fmt.Sprintf("$not(%s)", q.Sub[0].String())
	case OpIn:
		return fmt.Sprintf("%s IN %v", q.Name, q.Values)
	default:
		return fmt.Sprintf("%s %s %q", q.Name, opSymbol(q.Op), q.Value)
	}
}

func combinatorString(tag string, sub []*Query) string {
	parts := make([]string, len(sub))
	for i, s := range sub {
		parts[i] = s.String()
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s%v", tag, parts)
}

func opSymbol(op Op) string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpLike:
		return "LIKE"
	default:
		return "?"
	}
}

// operatorKeys maps the JSON `$op` keys onto node kinds.
var operatorKeys = map[string]Op{ //nolint:gochecknoglobals // fixed parse table
	"$neq":  OpNeq,
	"$gt":   OpGt,
	"$gte":  OpGte,
	"$lt":   OpLt,
	"$lte":  OpLte,
	"$like": OpLike,
	"$in":   OpIn,
}

// ParseJSON parses a structured tag-query tree from its JSON wire
// form, e.g. {"$and":[{"~age":{"$gte":"25"}}]}.
func ParseJSON(data []byte) (*Query, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrQuery, "parsing tag query: %v", err)
	}
	return parseObject(raw)
}

func parseObject(raw map[string]json.RawMessage) (*Query, error) {
	leaves := make([]*Query, 0, len(raw))

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		q, err := parseKey(key, value)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, q)
	}

	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return And(leaves...), nil
}

func parseKey(key string, value json.RawMessage) (*Query, error) {
	switch key {
	case "$and":
		return parseCombinator(OpAnd, value)
	case "$or":
		return parseCombinator(OpOr, value)
	case "$not":
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(value, &raw); err != nil {
			return nil, walleterr.Wrap(walleterr.ErrQuery, "parsing $not: %v", err)
		}
		inner, err := parseObject(raw)
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	default:
		return parseLeaf(key, value)
	}
}

func parseCombinator(op Op, value json.RawMessage) (*Query, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrQuery, "parsing boolean combinator: %v", err)
	}

	sub := make([]*Query, 0, len(items))
	for _, item := range items {
		q, err := parseObject(item)
		if err != nil {
			return nil, err
		}
		sub = append(sub, q)
	}

	return &Query{Op: op, Sub: sub}, nil
}

func parseLeaf(tagName string, value json.RawMessage) (*Query, error) {
	// Try a bare string first: implicit equality.
	var literal string
	if err := json.Unmarshal(value, &literal); err == nil {
		return Eq(tagName, literal), nil
	}

	var ops map[string]json.RawMessage
	if err := json.Unmarshal(value, &ops); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrQuery, "parsing leaf %q: %v", tagName, err)
	}

	if len(ops) != 1 {
		return nil, walleterr.WithDetails(walleterr.ErrQuery, map[string]string{"tag": tagName})
	}

	for opKey, raw := range ops {
		op, ok := operatorKeys[opKey]
		if !ok {
			return nil, walleterr.WithDetails(walleterr.ErrQuery, map[string]string{"operator": opKey})
		}

		if op == OpIn {
			var values []string
			if err := json.Unmarshal(raw, &values); err != nil {
				return nil, walleterr.Wrap(walleterr.ErrQuery, "parsing $in for %q: %v", tagName, err)
			}
			return In(tagName, values), nil
		}

		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, walleterr.Wrap(walleterr.ErrQuery, "parsing operator %q for %q: %v", opKey, tagName, err)
		}
		return &Query{Op: op, Name: tagName, Value: v}, nil
	}

	return nil, walleterr.ErrQuery
}
