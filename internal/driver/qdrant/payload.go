package qdrant

import (
	"time"

	"github.com/google/uuid"
	qdrantgo "github.com/qdrant/go-client/qdrant"

	"github.com/fyrsmithlabs/recalld/internal/driver"
)

// Payload field names. updated_at is stored as a double (unix seconds)
// so orphan removal can use a range filter on it.
const (
	fieldEntityID         = "entity_id"
	fieldRecordID         = "record_id"
	fieldTenantID         = "tenant_id"
	fieldOrgID            = "org_id"
	fieldChecksum         = "checksum"
	fieldTitle            = "title"
	fieldSubtitle         = "subtitle"
	fieldIcon             = "icon"
	fieldBadge            = "badge"
	fieldSnapshot         = "snapshot"
	fieldPrimaryLinkHref  = "primary_link_href"
	fieldPrimaryLinkLabel = "primary_link_label"
	fieldLinks            = "links"
	fieldPayload          = "payload"
	fieldCreatedAt        = "created_at"
	fieldUpdatedAt        = "updated_at"
)

// pointID derives the deterministic point id for an entry key. The same
// key always maps to the same uuid, so an upsert replaces the previous
// point atomically.
func pointID(entityID, recordID, tenantID string) string {
	key := entityID + "\x00" + recordID + "\x00" + tenantID
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func stringValue(v string) *qdrantgo.Value {
	return &qdrantgo.Value{Kind: &qdrantgo.Value_StringValue{StringValue: v}}
}

func doubleValue(v float64) *qdrantgo.Value {
	return &qdrantgo.Value{Kind: &qdrantgo.Value_DoubleValue{DoubleValue: v}}
}

// entryPayload maps an entry to a qdrant payload. Empty optional fields
// are omitted; links are JSON-encoded.
func entryPayload(entry *driver.Entry, createdAt, updatedAt time.Time) map[string]*qdrantgo.Value {
	payload := map[string]*qdrantgo.Value{
		fieldEntityID:  stringValue(entry.EntityID),
		fieldRecordID:  stringValue(entry.RecordID),
		fieldTenantID:  stringValue(entry.TenantID),
		fieldChecksum:  stringValue(entry.Checksum),
		fieldTitle:     stringValue(entry.Title),
		fieldCreatedAt: stringValue(createdAt.UTC().Format(time.RFC3339Nano)),
		fieldUpdatedAt: doubleValue(float64(updatedAt.UTC().UnixNano()) / float64(time.Second)),
	}

	optional := map[string]string{
		fieldOrgID:            entry.OrgID,
		fieldSubtitle:         entry.Subtitle,
		fieldIcon:             entry.Icon,
		fieldBadge:            entry.Badge,
		fieldSnapshot:         entry.Snapshot,
		fieldPrimaryLinkHref:  entry.PrimaryLinkHref,
		fieldPrimaryLinkLabel: entry.PrimaryLinkLabel,
		fieldLinks:            entry.Links,
		fieldPayload:          entry.Payload,
	}
	for name, v := range optional {
		if v != "" {
			payload[name] = stringValue(v)
		}
	}

	return payload
}

func payloadString(payload map[string]*qdrantgo.Value, name string) string {
	v, ok := payload[name]
	if !ok {
		return ""
	}
	if s, ok := v.Kind.(*qdrantgo.Value_StringValue); ok {
		return s.StringValue
	}
	return ""
}

// entryFromPayload reconstructs an entry from a stored payload. The
// vector itself is not read back; consumers only need the metadata.
func entryFromPayload(payload map[string]*qdrantgo.Value) driver.Entry {
	entry := driver.Entry{
		EntityID:         payloadString(payload, fieldEntityID),
		RecordID:         payloadString(payload, fieldRecordID),
		TenantID:         payloadString(payload, fieldTenantID),
		OrgID:            payloadString(payload, fieldOrgID),
		Checksum:         payloadString(payload, fieldChecksum),
		Title:            payloadString(payload, fieldTitle),
		Subtitle:         payloadString(payload, fieldSubtitle),
		Icon:             payloadString(payload, fieldIcon),
		Badge:            payloadString(payload, fieldBadge),
		Snapshot:         payloadString(payload, fieldSnapshot),
		PrimaryLinkHref:  payloadString(payload, fieldPrimaryLinkHref),
		PrimaryLinkLabel: payloadString(payload, fieldPrimaryLinkLabel),
		Links:            payloadString(payload, fieldLinks),
		Payload:          payloadString(payload, fieldPayload),
	}

	if raw := payloadString(payload, fieldCreatedAt); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			entry.CreatedAt = t
		}
	}
	if v, ok := payload[fieldUpdatedAt]; ok {
		if d, ok := v.Kind.(*qdrantgo.Value_DoubleValue); ok {
			sec := int64(d.DoubleValue)
			nsec := int64((d.DoubleValue - float64(sec)) * float64(time.Second))
			entry.UpdatedAt = time.Unix(sec, nsec).UTC()
		}
	}

	return entry
}

func keywordCondition(field, value string) *qdrantgo.Condition {
	return &qdrantgo.Condition{
		ConditionOneOf: &qdrantgo.Condition_Field{
			Field: &qdrantgo.FieldCondition{
				Key: field,
				Match: &qdrantgo.Match{
					MatchValue: &qdrantgo.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func keywordsCondition(field string, values []string) *qdrantgo.Condition {
	return &qdrantgo.Condition{
		ConditionOneOf: &qdrantgo.Condition_Field{
			Field: &qdrantgo.FieldCondition{
				Key: field,
				Match: &qdrantgo.Match{
					MatchValue: &qdrantgo.Match_Keywords{
						Keywords: &qdrantgo.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

func updatedBeforeCondition(cutoff time.Time) *qdrantgo.Condition {
	return &qdrantgo.Condition{
		ConditionOneOf: &qdrantgo.Condition_Field{
			Field: &qdrantgo.FieldCondition{
				Key: fieldUpdatedAt,
				Range: &qdrantgo.Range{
					Lt: qdrantgo.PtrOf(float64(cutoff.UTC().UnixNano()) / float64(time.Second)),
				},
			},
		},
	}
}

// scopeFilter builds the mandatory tenant filter plus optional org and
// entity constraints.
func scopeFilter(f driver.Filter) *qdrantgo.Filter {
	must := []*qdrantgo.Condition{keywordCondition(fieldTenantID, f.TenantID)}
	if f.OrgID != "" {
		must = append(must, keywordCondition(fieldOrgID, f.OrgID))
	}
	if len(f.EntityIDs) > 0 {
		must = append(must, keywordsCondition(fieldEntityID, f.EntityIDs))
	}
	return &qdrantgo.Filter{Must: must}
}
