package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_SplitsCustomFields(t *testing.T) {
	rec := Decode("r1", map[string]any{
		"title":         "Acme Corp",
		"custom.region": "emea",
		"custom.score":  42,
		"custom.":       "dropped",
	})

	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, "Acme Corp", rec.Fields["title"])
	assert.NotContains(t, rec.Fields, "custom.region")
	assert.Equal(t, "emea", rec.Custom["region"])
	assert.Equal(t, 42, rec.Custom["score"])
	assert.NotContains(t, rec.Custom, "")
}

func TestRecord_StringField(t *testing.T) {
	rec := Decode("r1", map[string]any{
		"title":  "  Acme  ",
		"amount": 12.5,
	})

	assert.Equal(t, "Acme", rec.StringField("title"))
	assert.Empty(t, rec.StringField("amount"), "non-strings read as empty")
	assert.Empty(t, rec.StringField("missing"))
}

func TestMemorySource_FetchOmitsMissing(t *testing.T) {
	src := NewMemorySource()
	src.Put("company", "t1", Decode("r1", map[string]any{"name": "Acme"}))

	got, err := src.Fetch(context.Background(), "company", []string{"r1", "r2"}, "t1", "")
	require.NoError(t, err)

	assert.Len(t, got, 1)
	assert.Contains(t, got, "r1")
	assert.NotContains(t, got, "r2")
}

func TestMemorySource_TenantScoped(t *testing.T) {
	src := NewMemorySource()
	src.Put("company", "t1", Decode("r1", map[string]any{"name": "Acme"}))

	got, err := src.Fetch(context.Background(), "company", []string{"r1"}, "t2", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemorySource_Page(t *testing.T) {
	src := NewMemorySource()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		src.Put("company", "t1", Decode(id, map[string]any{"name": id}))
	}

	first, err := src.Page(context.Background(), "company", PageRequest{TenantID: "t1", Page: 0, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "a", first.Records[0].ID)

	last, err := src.Page(context.Background(), "company", PageRequest{TenantID: "t1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, last.Records, 1)
	assert.False(t, last.HasMore)

	empty, err := src.Page(context.Background(), "company", PageRequest{TenantID: "t1", Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, empty.Records)
	assert.False(t, empty.HasMore)
}
