package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_Deterministic(t *testing.T) {
	a, err := Sum(map[string]any{"name": "Acme", "kind": "company"})
	require.NoError(t, err)

	b, err := Sum(map[string]any{"kind": "company", "name": "Acme"})
	require.NoError(t, err)

	assert.Equal(t, a, b, "key order must not affect the checksum")
}

func TestSum_NestedKeyOrder(t *testing.T) {
	a, err := Sum(map[string]any{
		"record": map[string]any{"title": "Deal", "amount": 42.5},
		"customFields": map[string]any{
			"region": "emea",
			"tags":   []any{"x", "y"},
		},
	})
	require.NoError(t, err)

	b, err := Sum(map[string]any{
		"customFields": map[string]any{
			"tags":   []any{"x", "y"},
			"region": "emea",
		},
		"record": map[string]any{"amount": 42.5, "title": "Deal"},
	})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSum_DifferentContentDiffers(t *testing.T) {
	a, err := Sum(map[string]any{"title": "Acme"})
	require.NoError(t, err)

	b, err := Sum(map[string]any{"title": "Acme Corp"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSum_ArrayOrderMatters(t *testing.T) {
	a, err := Sum([]string{"x", "y"})
	require.NoError(t, err)

	b, err := Sum([]string{"y", "x"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "array order is content, not structure")
}

func TestSum_StructsAndMapsAgree(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}

	a, err := Sum(payload{Title: "Acme", Count: 3})
	require.NoError(t, err)

	b, err := Sum(map[string]any{"count": 3, "title": "Acme"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSum_UnsupportedValue(t *testing.T) {
	_, err := Sum(make(chan int))
	assert.Error(t, err)
}
