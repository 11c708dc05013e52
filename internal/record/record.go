// Package record defines the Record type at the heart of the wallet
// service: a (type, name, value, tags) tuple, plus the validation
// rules shared by every layer that touches one in plaintext.
package record

import (
	"unicode/utf8"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// PlainTagPrefix marks a tag name as a plain (unencrypted) tag, stored
// as-is to support range and substring search at the cost of
// confidentiality.
const PlainTagPrefix = "~"

// IndyTypePrefix is the reserved type prefix used by internal
// subsystems of the host application; wallet-level operations accept
// the full prefixed type unmodified.
const IndyTypePrefix = "Indy::"

// Record is the unit of storage: a type+name key, an opaque value,
// and a set of tags. type+name uniquely identifies a record within a
// wallet.
type Record struct {
	Type  string
	Name  string
	Value []byte
	Tags  map[string]string
}

// IsPlainTag reports whether a tag name is a plain (unencrypted) tag.
func IsPlainTag(tagName string) bool {
	return len(tagName) > 0 && tagName[0:1] == PlainTagPrefix
}

// Validate checks the invariants §3 places on a Record before it is
// handed to the encryption layer: type, name, and all tag strings must
// be valid UTF-8, and tag keys (as given — the `~` sentinel counts as
// part of the key) must be unique within the record.
func (r *Record) Validate() error {
	if !utf8.ValidString(r.Type) {
		return walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{"field": "type"})
	}
	if !utf8.ValidString(r.Name) {
		return walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{"field": "name"})
	}

	for name, value := range r.Tags {
		if !utf8.ValidString(name) {
			return walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{"field": "tag_name", "tag": name})
		}
		if !utf8.ValidString(value) {
			return walleterr.WithDetails(walleterr.ErrInvalidStructure, map[string]string{"field": "tag_value", "tag": name})
		}
	}

	return nil
}

// Options controls which fields a Get/search operation populates.
// Fields that are not requested are left at their zero value in the
// returned Record, so an unrequested field looks the same as a requested
// one that is empty.
type Options struct {
	RetrieveType  bool
	RetrieveValue bool
	RetrieveTags  bool
}

// DefaultOptions matches §4.5's defaults for a single-record get:
// type omitted, value included, tags omitted.
func DefaultOptions() Options {
	return Options{RetrieveType: false, RetrieveValue: true, RetrieveTags: false}
}

// SearchOptions extends Options with the two search-only switches.
type SearchOptions struct {
	Options
	RetrieveRecords     bool
	RetrieveTotalCount  bool
}

// DefaultSearchOptions matches §4.5's defaults for search.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Options:            DefaultOptions(),
		RetrieveRecords:    true,
		RetrieveTotalCount: false,
	}
}

// Apply masks a fully-populated Record down to the fields Options asked
// for, leaving the rest at their zero value. Callers that need to
// distinguish "absent" from "empty" should check Options directly
// rather than relying on the zero value alone.
func (o Options) Apply(full Record) Record {
	out := Record{Name: full.Name}
	if o.RetrieveType {
		out.Type = full.Type
	}
	if o.RetrieveValue {
		out.Value = full.Value
	}
	if o.RetrieveTags {
		out.Tags = full.Tags
	}
	return out
}
