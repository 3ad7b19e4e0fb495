package record

import "context"

// PageRequest asks the source for one page of an entity's records.
type PageRequest struct {
	TenantID string
	OrgID    string
	Page     int // zero-based
	PageSize int
}

// PageResult is one page of records plus a continuation hint.
type PageResult struct {
	Records []Record
	HasMore bool
}

// Source fetches live, authorized records from the system of record.
//
// A missing id is simply absent from the Fetch result map, not an error;
// the engine treats absence as a delete signal.
type Source interface {
	// Fetch returns the requested records keyed by id. Ids that do not
	// resolve to a live, authorized record are omitted.
	Fetch(ctx context.Context, entityID string, ids []string, tenantID, orgID string) (map[string]Record, error)

	// Page returns one page of the entity's records for a reindex walk.
	Page(ctx context.Context, entityID string, req PageRequest) (PageResult, error)
}
