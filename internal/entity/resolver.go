package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// preferredFields lead the fallback embedding text, in this order.
var preferredFields = []string{"title", "name", "displayName", "display_name", "summary", "subject"}

// bookkeepingFields never contribute embedding lines.
var bookkeepingFields = map[string]bool{
	"id":              true,
	"tenantId":        true,
	"tenant_id":       true,
	"organizationId":  true,
	"organization_id": true,
	"createdAt":       true,
	"created_at":      true,
	"updatedAt":       true,
	"updated_at":      true,
}

// kindIcons maps a record's "kind" field value to a presenter icon.
var kindIcons = map[string]string{
	"person":       "user",
	"company":      "building",
	"organization": "building",
}

// ResolveSource builds the embeddable source for one record.
//
// The entity's BuildSource hook wins when present; (nil, nil) from the hook
// means "not currently indexable" and is passed through so the pipeline can
// run its delete-if-exists branch. Without a hook a deterministic fallback
// renders one "<label>: <value>" line per field, preferred fields first,
// and guarantees at least one line.
func ResolveSource(ctx context.Context, reg Registered, sc SourceContext) (*Source, error) {
	if hook := reg.Hooks.BuildSource; hook != nil {
		src, err := hook(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("build source hook for %s: %w", reg.EntityID, err)
		}
		if src == nil {
			return nil, nil
		}
		if src.ChecksumSource == nil {
			src.ChecksumSource = defaultChecksumSource(sc)
		}
		return src, nil
	}

	lines := fallbackLines(reg, sc)
	return &Source{
		Lines:          lines,
		ChecksumSource: defaultChecksumSource(sc),
	}, nil
}

// defaultChecksumSource is the full raw payload. Hashing more than the
// embedding text is deliberate: presentation-relevant field changes should
// refresh the stored entry even when a custom hook ignores them.
func defaultChecksumSource(sc SourceContext) any {
	return map[string]any{
		"record":       sc.Record.Fields,
		"customFields": sc.Record.Custom,
	}
}

func fallbackLines(reg Registered, sc SourceContext) []string {
	rec := sc.Record
	var lines []string
	seen := make(map[string]bool)

	for _, name := range preferredFields {
		if v, ok := rec.Fields[name]; ok && !seen[name] {
			if s := valueString(v); s != "" {
				lines = append(lines, name+": "+s)
			}
			seen[name] = true
		}
	}

	rest := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		if seen[name] || bookkeepingFields[name] {
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		if s := valueString(rec.Fields[name]); s != "" {
			lines = append(lines, name+": "+s)
		}
	}

	customs := make([]string, 0, len(rec.Custom))
	for name := range rec.Custom {
		customs = append(customs, name)
	}
	sort.Strings(customs)
	for _, name := range customs {
		if s := valueString(rec.Custom[name]); s != "" {
			lines = append(lines, "custom."+name+": "+s)
		}
	}

	// The embedding input must never be empty.
	if len(lines) == 0 {
		lines = []string{reg.EntityID + "#" + rec.ID}
	}
	return lines
}

// valueString renders a field value for an embedding line. Objects and
// arrays are JSON-stringified; nil and empty strings render as "".
func valueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// ResolvePresenter builds the presenter for one record, hook first.
func ResolvePresenter(ctx context.Context, reg Registered, sc SourceContext) (Presenter, error) {
	if hook := reg.Hooks.FormatResult; hook != nil {
		p, err := hook(ctx, sc)
		if err != nil {
			return Presenter{}, fmt.Errorf("format result hook for %s: %w", reg.EntityID, err)
		}
		if p != nil {
			if p.Title == "" {
				p.Title = fallbackTitle(sc)
			}
			return *p, nil
		}
	}

	return Presenter{
		Title:    fallbackTitle(sc),
		Subtitle: Snapshot(sc),
		Icon:     fallbackIcon(reg, sc),
	}, nil
}

func fallbackTitle(sc SourceContext) string {
	rec := sc.Record
	for _, name := range []string{"displayName", "display_name", "title", "name", "subject"} {
		if s := rec.StringField(name); s != "" {
			return s
		}
	}
	return rec.ID
}

// Snapshot returns the first non-empty of the record's summary, description,
// or body fields, checking custom fields of the same names last.
func Snapshot(sc SourceContext) string {
	rec := sc.Record
	for _, name := range []string{"summary", "description", "body"} {
		if s := rec.StringField(name); s != "" {
			return s
		}
	}
	for _, name := range []string{"summary", "description"} {
		if s := rec.StringCustom(name); s != "" {
			return s
		}
	}
	return ""
}

func fallbackIcon(reg Registered, sc SourceContext) string {
	if kind := sc.Record.StringField("kind"); kind != "" {
		if icon, ok := kindIcons[strings.ToLower(kind)]; ok {
			return icon
		}
	}
	return reg.Icon
}

// ResolveLinks returns the entity's links for one record. Without a hook
// there is no generic way to derive links, so the fallback is none.
func ResolveLinks(ctx context.Context, reg Registered, sc SourceContext) ([]Link, error) {
	if hook := reg.Hooks.ResolveLinks; hook != nil {
		links, err := hook(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("resolve links hook for %s: %w", reg.EntityID, err)
		}
		return links, nil
	}
	return nil, nil
}

// ResolveURL returns the record's canonical URL, or "" when no hook exists.
func ResolveURL(ctx context.Context, reg Registered, sc SourceContext) (string, error) {
	if hook := reg.Hooks.ResolveURL; hook != nil {
		url, err := hook(ctx, sc)
		if err != nil {
			return "", fmt.Errorf("resolve url hook for %s: %w", reg.EntityID, err)
		}
		return url, nil
	}
	return "", nil
}
