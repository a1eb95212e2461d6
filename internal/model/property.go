// Package model defines the core data types shared across the evaluation pipeline.
package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Source identifiers for field provenance. Precedence is authoritative-first.
const (
	SourceCountyAssessor = "maricopa_county" // registry/government records
	SourceMLSListing     = "mls_listing"     // directly-listed marketplace data
	SourceVisualAI       = "visual_ai"       // automated visual/AI inference
	SourceManualVerified = "manual_verified" // operator-verified, protected
	SourceUserEntry      = "user_entry"      // user-entered, protected
)

// sourcePrecedence ranks sources for conflict resolution. Higher wins.
// Unknown sources rank 0, below every named source.
var sourcePrecedence = map[string]int{
	SourceManualVerified: 4,
	SourceUserEntry:      4,
	SourceCountyAssessor: 3,
	SourceMLSListing:     2,
	SourceVisualAI:       1,
}

// protectedSources are never overwritten by an automated merge.
var protectedSources = map[string]bool{
	SourceManualVerified: true,
	SourceUserEntry:      true,
}

// SourcePrecedence returns the precedence rank for a source identifier.
func SourcePrecedence(source string) int {
	return sourcePrecedence[source]
}

// IsProtectedSource reports whether values from the source are protected
// against automated overwrite.
func IsProtectedSource(source string) bool {
	return protectedSources[source]
}

// FieldValue is a single observed value for a property field. Immutable once
// written; a newer observation supersedes it, never mutates it in place.
type FieldValue struct {
	Value      any       `json:"value"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// Equal reports whether two field values carry the same value from the same
// source. Confidence and timestamp do not participate; re-observing the same
// fact is a no-op for merge purposes.
func (fv FieldValue) Equal(other FieldValue) bool {
	return fv.Source == other.Source && valuesEqual(fv.Value, other.Value)
}

// valuesEqual compares field values loosely enough to survive a JSON
// round-trip (ints decode as float64).
func valuesEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// PropertyRecord is the canonical merged view of a single property. The
// current value for a field is always the single winning FieldValue selected
// by source precedence, never a blend.
type PropertyRecord struct {
	FullAddress string `json:"address"`
	Normalized  string `json:"normalized"`

	// Fields holds the current winning value per field.
	Fields map[string]FieldValue `json:"fields"`

	// History holds the full lineage of every contributing value per field,
	// in observation order.
	History map[string][]FieldValue `json:"history,omitempty"`

	// Extra retains unrecognized pass-through data from sources. Never dropped.
	Extra map[string]any `json:"extra,omitempty"`

	// Staged holds acquired per-source fragments awaiting merge. Persisted so
	// a run interrupted between acquisition and merge can resume without
	// re-fetching completed acquisition work.
	Staged map[string]map[string]FieldValue `json:"staged,omitempty"`

	LastUpdated time.Time `json:"_last_updated"`
	LastSync    time.Time `json:"_last_sync"`
}

// NewPropertyRecord creates an empty record for the given address.
func NewPropertyRecord(address string) *PropertyRecord {
	return &PropertyRecord{
		FullAddress: address,
		Normalized:  NormalizeAddress(address),
		Fields:      make(map[string]FieldValue),
		History:     make(map[string][]FieldValue),
	}
}

// Clone returns a deep copy. Cross-boundary exchanges always copy; no
// external component ever holds a live reference into pipeline-owned state.
func (r *PropertyRecord) Clone() *PropertyRecord {
	out := &PropertyRecord{
		FullAddress: r.FullAddress,
		Normalized:  r.Normalized,
		Fields:      make(map[string]FieldValue, len(r.Fields)),
		History:     make(map[string][]FieldValue, len(r.History)),
		LastUpdated: r.LastUpdated,
		LastSync:    r.LastSync,
	}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	for k, vs := range r.History {
		out.History[k] = append([]FieldValue(nil), vs...)
	}
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	if r.Staged != nil {
		out.Staged = make(map[string]map[string]FieldValue, len(r.Staged))
		for source, fields := range r.Staged {
			frag := make(map[string]FieldValue, len(fields))
			for k, v := range fields {
				frag[k] = v
			}
			out.Staged[source] = frag
		}
	}
	return out
}

// Stage records an acquired fragment for later merge, replacing any earlier
// staged fragment from the same source.
func (r *PropertyRecord) Stage(source string, fields map[string]FieldValue) {
	if r.Staged == nil {
		r.Staged = make(map[string]map[string]FieldValue)
	}
	r.Staged[source] = fields
}

// Float returns the named field coerced to float64.
func (r *PropertyRecord) Float(field string) (float64, bool) {
	fv, ok := r.Fields[field]
	if !ok {
		return 0, false
	}
	return asFloat(fv.Value)
}

// String returns the named field coerced to string.
func (r *PropertyRecord) String(field string) (string, bool) {
	fv, ok := r.Fields[field]
	if !ok {
		return "", false
	}
	s, ok := fv.Value.(string)
	return s, ok
}

// addressStripper removes diacritics so "Jalapeño Ln" and "Jalapeno Ln"
// normalize to the same key.
var addressStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeAddress produces the canonical lookup key for an address:
// diacritic-stripped, lower-cased, punctuation removed, whitespace collapsed.
func NormalizeAddress(address string) string {
	stripped, _, err := transform.String(addressStripper, address)
	if err != nil {
		stripped = address
	}

	var b strings.Builder
	b.Grow(len(stripped))
	lastSpace := true
	for _, c := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(c) || unicode.IsDigit(c):
			b.WriteRune(c)
			lastSpace = false
		case unicode.IsSpace(c):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimRight(b.String(), " ")
}
