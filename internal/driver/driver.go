// Package driver defines the pluggable vector storage backend contract.
//
// Drivers implement the required Driver interface and optionally the
// capability interfaces (Purger, Lister, Counter, OrphanRemover). The
// pipeline checks capabilities with type assertions: required paths fail
// with ErrCapability, cleanup paths log and no-op.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrCapability indicates the driver does not support the operation.
	ErrCapability = errors.New("driver capability not supported")

	// ErrUnknownDriver indicates no driver is registered under the id.
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrInvalidConfig indicates invalid driver configuration.
	ErrInvalidConfig = errors.New("invalid driver configuration")
)

// Link is one result link. Entries store the link list JSON-encoded in
// Entry.Links so the whole list can be encrypted as a single field.
type Link struct {
	Href  string `json:"href"`
	Label string `json:"label,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// EncodeLinks JSON-encodes a link list for storage. Empty lists encode
// to "".
func EncodeLinks(links []Link) string {
	if len(links) == 0 {
		return ""
	}
	raw, err := json.Marshal(links)
	if err != nil {
		return ""
	}
	return string(raw)
}

// DecodeLinks parses a stored link list. Returns nil for "" and for
// values that are not JSON, which is what an encrypted value that failed
// to decrypt looks like.
func DecodeLinks(stored string) []Link {
	if stored == "" {
		return nil
	}
	var links []Link
	if err := json.Unmarshal([]byte(stored), &links); err != nil {
		return nil
	}
	return links
}

// Key identifies one stored entry. The tuple is unique per driver: an
// upsert with an existing key replaces all fields atomically.
type Key struct {
	DriverID string
	EntityID string
	RecordID string
	TenantID string
}

// Entry is the persisted unit of the index.
type Entry struct {
	EntityID string
	RecordID string
	TenantID string

	// OrgID is the organization scope, "" when absent.
	OrgID string

	// Checksum covers the full content the embedding and presentation
	// were derived from, not just the embedding text.
	Checksum string

	// Embedding is the precomputed vector. Drivers never embed.
	Embedding []float32

	Title    string
	Subtitle string
	Icon     string
	Badge    string
	Snapshot string

	PrimaryLinkHref  string
	PrimaryLinkLabel string

	// Links is the JSON-encoded link list, possibly ciphertext when
	// encryption is enabled. See EncodeLinks/DecodeLinks.
	Links string

	// Payload is opaque caller metadata, "" when absent.
	Payload string

	// CreatedAt zero on upsert means "preserve the stored value, or
	// use now for a new entry".
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter scopes query, list, count and purge operations. TenantID is
// mandatory everywhere results are returned: entries never cross tenant
// boundaries.
type Filter struct {
	TenantID  string
	OrgID     string
	EntityIDs []string
}

// Hit is one similarity query result.
type Hit struct {
	Entry Entry
	Score float32
}

// Driver is the required vector storage contract.
type Driver interface {
	// EnsureReady performs idempotent lazy initialization. Safe to call
	// repeatedly and concurrently.
	EnsureReady(ctx context.Context) error

	// Upsert atomically replaces the entry stored under its key.
	Upsert(ctx context.Context, entry *Entry) error

	// Checksum returns the stored checksum for a record, or
	// ("", ErrNotFound) when no entry exists.
	Checksum(ctx context.Context, entityID, recordID, tenantID string) (string, error)

	// Delete removes the entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, entityID, recordID, tenantID string) error

	// Query returns the entries most similar to the vector, ranked by
	// score, scoped by the filter.
	Query(ctx context.Context, vector []float32, limit int, f Filter) ([]Hit, error)

	// Close releases driver resources.
	Close() error
}

// Purger removes all entries for an entity within a tenant.
type Purger interface {
	Purge(ctx context.Context, entityID, tenantID string) error
}

// ListPage is one page of a List walk.
type ListPage struct {
	Entries []Entry

	// Cursor resumes the walk; "" means the walk is complete.
	Cursor string
}

// Lister enumerates stored entries, paged.
type Lister interface {
	List(ctx context.Context, f Filter, cursor string, limit int) (ListPage, error)
}

// Counter counts stored entries. Drivers without it are served by
// paging a Lister.
type Counter interface {
	Count(ctx context.Context, f Filter) (int64, error)
}

// OrphanRemover deletes entries last updated before the cutoff. Used
// after purge-first reindex walks to collect entries the walk did not
// refresh.
type OrphanRemover interface {
	RemoveOrphans(ctx context.Context, entityID, tenantID, orgID string, olderThan time.Time) (int64, error)
}
