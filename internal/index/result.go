package index

// Action is the terminal outcome of one index or delete operation.
type Action string

const (
	ActionIndexed Action = "indexed"
	ActionDeleted Action = "deleted"
	ActionSkipped Action = "skipped"
)

// Reason explains a skipped action.
type Reason string

const (
	ReasonUnsupported   Reason = "unsupported"
	ReasonMissingRecord Reason = "missing_record"
	ReasonChecksumMatch Reason = "checksum_match"
)

// Result describes the outcome of one pipeline operation. It is
// returned to the caller and logged, never persisted.
type Result struct {
	Action Action `json:"action"`

	// Created is true when an indexed action wrote a brand new entry.
	Created bool `json:"created"`

	// Existed is true when an entry was present before the operation.
	Existed bool `json:"existed"`

	// Reason is set only when Action is skipped.
	Reason Reason `json:"reason,omitempty"`

	TenantID string `json:"tenant_id"`
	OrgID    string `json:"org_id,omitempty"`
}

func skipped(reason Reason, existed bool, tenantID, orgID string) Result {
	return Result{
		Action:   ActionSkipped,
		Reason:   reason,
		Existed:  existed,
		TenantID: tenantID,
		OrgID:    orgID,
	}
}
