// Package merge combines partial per-source property fragments into one
// canonical record using source-precedence conflict resolution.
package merge

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

// Policy controls merge behavior. The zero value is the standard automated
// merge: precedence-ordered replacement with the default protected set.
type Policy struct {
	// UpdateOnly restricts the merge to fields that already have a value;
	// fields absent from the existing record are left untouched.
	UpdateOnly bool

	// Protected overrides the default protected-source set when non-nil.
	Protected map[string]bool

	// Precedence overrides the default source precedence when non-nil.
	Precedence map[string]int

	// Now is injectable for deterministic tests. Defaults to time.Now.
	Now func() time.Time
}

func (p Policy) isProtected(source string) bool {
	if p.Protected != nil {
		return p.Protected[source]
	}
	return model.IsProtectedSource(source)
}

func (p Policy) precedence(source string) int {
	if p.Precedence != nil {
		return p.Precedence[source]
	}
	return model.SourcePrecedence(source)
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Change records one accepted field replacement.
type Change struct {
	Field     string `json:"field"`
	Old       any    `json:"old,omitempty"`
	New       any    `json:"new"`
	OldSource string `json:"old_source,omitempty"`
	NewSource string `json:"new_source"`
}

// Blocked records one incoming value that did not replace the current value.
// Blocked values are reported, never silently dropped; protected blocks are
// still appended to history.
type Blocked struct {
	Field  string `json:"field"`
	Source string `json:"source"`
	Value  any    `json:"value"`
	Reason string `json:"reason"`
}

// Block reasons.
const (
	ReasonProtected       = "protected_source"
	ReasonLowerPrecedence = "lower_precedence"
	ReasonUpdateOnly      = "update_only"
	ReasonDuplicate       = "duplicate"
)

// ConflictReport summarizes the outcome of one merge call.
type ConflictReport struct {
	Accepted []Change  `json:"accepted,omitempty"`
	Blocked  []Blocked `json:"blocked,omitempty"`
	Synced   int       `json:"synced"` // duplicate observations (freshness only)
}

// Changed reports whether the merge accepted at least one value change.
func (r *ConflictReport) Changed() bool {
	return len(r.Accepted) > 0
}

// Apply merges an incoming per-source fragment into the existing record.
// It mutates existing in place and never errors: data-shape surprises are
// retained as opaque pass-through, not rejected. Applying the same fragment
// twice is a no-op the second time.
func Apply(existing *model.PropertyRecord, incoming map[string]model.FieldValue, policy Policy) ConflictReport {
	var report ConflictReport
	now := policy.now()

	// Deterministic field order keeps reports and history stable.
	fields := make([]string, 0, len(incoming))
	for f := range incoming {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		fv := incoming[field]
		current, exists := existing.Fields[field]

		// Same value from the same source: freshness sync only. No new
		// history entry, no value change.
		if exists && current.Equal(fv) {
			report.Synced++
			continue
		}

		if !exists && policy.UpdateOnly {
			report.Blocked = append(report.Blocked, Blocked{
				Field: field, Source: fv.Source, Value: fv.Value, Reason: ReasonUpdateOnly,
			})
			continue
		}

		if exists && policy.isProtected(current.Source) {
			// Protected current value: record the attempt in history and in
			// the report, leave the current value alone. A re-applied identical
			// attempt stays a single history entry.
			if lastHistoryEqual(existing, field, fv) {
				report.Blocked = append(report.Blocked, Blocked{
					Field: field, Source: fv.Source, Value: fv.Value, Reason: ReasonDuplicate,
				})
				continue
			}
			existing.History[field] = append(existing.History[field], fv)
			report.Blocked = append(report.Blocked, Blocked{
				Field: field, Source: fv.Source, Value: fv.Value, Reason: ReasonProtected,
			})
			continue
		}

		if exists && policy.precedence(fv.Source) < policy.precedence(current.Source) {
			if lastHistoryEqual(existing, field, fv) {
				report.Blocked = append(report.Blocked, Blocked{
					Field: field, Source: fv.Source, Value: fv.Value, Reason: ReasonDuplicate,
				})
				continue
			}
			existing.History[field] = append(existing.History[field], fv)
			report.Blocked = append(report.Blocked, Blocked{
				Field: field, Source: fv.Source, Value: fv.Value, Reason: ReasonLowerPrecedence,
			})
			continue
		}

		change := Change{Field: field, New: fv.Value, NewSource: fv.Source}
		if exists {
			change.Old = current.Value
			change.OldSource = current.Source
		}
		existing.Fields[field] = fv
		existing.History[field] = append(existing.History[field], fv)
		report.Accepted = append(report.Accepted, change)
	}

	if report.Changed() {
		existing.LastUpdated = now
	}
	existing.LastSync = now

	if len(report.Blocked) > 0 {
		zap.L().Debug("merge: blocked values",
			zap.String("address", existing.Normalized),
			zap.Int("blocked", len(report.Blocked)),
		)
	}
	return report
}

// lastHistoryEqual reports whether the newest lineage entry for the field
// already records this exact observation.
func lastHistoryEqual(rec *model.PropertyRecord, field string, fv model.FieldValue) bool {
	h := rec.History[field]
	return len(h) > 0 && h[len(h)-1].Equal(fv)
}

// ApplyExtra retains unrecognized keys from a source payload. Unknown data is
// pass-through: kept verbatim under Extra, never interpreted, never dropped.
func ApplyExtra(existing *model.PropertyRecord, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if existing.Extra == nil {
		existing.Extra = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		existing.Extra[k] = v
	}
}
