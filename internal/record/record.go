// Package record defines the record model consumed by the indexing engine
// and the contract to the upstream record source.
//
// Records arrive from the source as flat maps where custom-field values are
// keyed with a "custom." prefix. Decode splits them apart at the ingestion
// boundary; prefixed-key maps never travel deeper into the engine.
package record

import "strings"

// CustomFieldPrefix marks custom-field keys in raw source payloads.
const CustomFieldPrefix = "custom."

// Record is a single source record plus its custom-field values.
type Record struct {
	// ID is the record identifier within its entity.
	ID string

	// Fields holds the record's own columns.
	Fields map[string]any

	// Custom holds custom-field values, keyed without the "custom." prefix.
	Custom map[string]any
}

// Decode builds a Record from a raw source payload, splitting
// "custom."-prefixed keys into the Custom map.
func Decode(id string, raw map[string]any) Record {
	rec := Record{
		ID:     id,
		Fields: make(map[string]any, len(raw)),
		Custom: make(map[string]any),
	}

	for k, v := range raw {
		if name, ok := strings.CutPrefix(k, CustomFieldPrefix); ok {
			if name != "" {
				rec.Custom[name] = v
			}
			continue
		}
		rec.Fields[k] = v
	}

	return rec
}

// Field returns the named record field, or nil when absent.
func (r Record) Field(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// StringField returns the named field as a non-empty string, or "" when the
// field is absent, empty, or not a string.
func (r Record) StringField(name string) string {
	if s, ok := r.Field(name).(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// StringCustom returns the named custom field as a non-empty string.
func (r Record) StringCustom(name string) string {
	if r.Custom == nil {
		return ""
	}
	if s, ok := r.Custom[name].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
