// Package entity defines the per-entity indexing configuration, the
// optional source-provider hooks, and the generic fallbacks used when an
// entity registers no hooks.
package entity

import (
	"context"

	"github.com/fyrsmithlabs/recalld/internal/record"
)

// SourceContext carries everything a hook needs to render one record.
type SourceContext struct {
	Record   record.Record
	TenantID string
	OrgID    string
}

// Source is the embeddable content and checksum basis for one record.
type Source struct {
	// Lines are the embedding input, one "<label>: <value>" line each.
	Lines []string

	// ChecksumSource is the value hashed to decide re-embedding. When nil
	// the resolver substitutes the full raw payload, which makes checksum
	// sensitivity deliberately broader than the embedding text.
	ChecksumSource any
}

// Presenter is the human-facing rendering of a search hit.
type Presenter struct {
	Title    string
	Subtitle string
	Icon     string
	Badge    string
}

// Link is a navigable reference attached to a search hit.
type Link struct {
	Href  string `json:"href"`
	Label string `json:"label"`
	Kind  string `json:"kind,omitempty"`
}

// Hooks are the optional per-entity overrides. Nil fields fall back to the
// generic resolver behavior.
//
// BuildSource returning (nil, nil) means the record is not currently
// indexable; the pipeline treats that exactly like a missing record.
type Hooks struct {
	BuildSource  func(ctx context.Context, sc SourceContext) (*Source, error)
	FormatResult func(ctx context.Context, sc SourceContext) (*Presenter, error)
	ResolveLinks func(ctx context.Context, sc SourceContext) ([]Link, error)
	ResolveURL   func(ctx context.Context, sc SourceContext) (string, error)
}

// Config declares one indexable entity.
type Config struct {
	// EntityID is the logical record type, e.g. "company" or "deal".
	EntityID string

	// DriverID overrides the module/default vector driver for this entity.
	DriverID string

	// Disabled entities stay registered but are excluded from Enabled()
	// and report unsupported on index calls.
	Disabled bool

	// Icon is the default presenter icon for this entity type.
	Icon string

	// Hooks are the optional per-entity overrides.
	Hooks Hooks
}

// ModuleConfig groups the entity configs one application module registers.
type ModuleConfig struct {
	// DriverID is the module-level default driver for its entities.
	DriverID string

	Entities []Config
}
