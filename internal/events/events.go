// Package events publishes and consumes engine events. The only event
// today is the dispatched reindex request; delivery is at-least-once
// and the indexing pipeline is idempotent, so duplicates are harmless.
package events

import (
	"context"
	"errors"
)

// SubjectReindexEntity carries ReindexRequested payloads.
const SubjectReindexEntity = "recall.reindex.entity"

// ErrInvalidConfig indicates invalid events configuration.
var ErrInvalidConfig = errors.New("invalid events configuration")

// ReindexRequested asks a consumer to walk one entity. PurgeFirst is
// false on the wire when the dispatcher already purged before emitting.
type ReindexRequested struct {
	EntityID   string `json:"entity_id"`
	TenantID   string `json:"tenant_id"`
	OrgID      string `json:"org_id,omitempty"`
	PurgeFirst bool   `json:"purge_first,omitempty"`
}

// Sink publishes an event to a subject.
type Sink interface {
	Emit(ctx context.Context, subject string, v any) error
	Close() error
}
