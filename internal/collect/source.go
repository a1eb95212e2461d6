// Package collect defines the boundary to the acquisition collaborators and
// the coordinator that runs the independent per-property acquisition pair.
// Actual field acquisition (scraping, county/maps/schools APIs, visual
// assessment) lives outside this system; only the interface is specified here.
package collect

import (
	"context"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

// Fragment is one collaborator's partial view of a property. A collaborator
// that finds nothing reports NotFound rather than erroring.
type Fragment struct {
	Source string

	// Fields holds recognized field observations.
	Fields map[string]model.FieldValue

	// Extra holds unrecognized keys the collaborator passed along. Retained
	// verbatim, never dropped.
	Extra map[string]any

	NotFound bool
}

// Source is an acquisition collaborator for one upstream system.
type Source interface {
	// Name returns the provenance source identifier
	// (e.g. model.SourceCountyAssessor).
	Name() string

	// Fetch returns the collaborator's fragment for an address. Transient
	// failures should be wrapped with resilience.NewTransientError so the
	// coordinator's retry policy applies.
	Fetch(ctx context.Context, address string) (Fragment, error)
}
