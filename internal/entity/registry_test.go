package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DriverResolution(t *testing.T) {
	r := NewRegistry("chromem", nil)
	r.Register(ModuleConfig{
		DriverID: "qdrant",
		Entities: []Config{
			{EntityID: "company"},
			{EntityID: "deal", DriverID: "special"},
		},
	}, ModuleConfig{
		Entities: []Config{
			{EntityID: "note"},
		},
	})

	company, ok := r.Lookup("company")
	require.True(t, ok)
	assert.Equal(t, "qdrant", company.ResolvedDriverID, "module default applies")

	deal, ok := r.Lookup("deal")
	require.True(t, ok)
	assert.Equal(t, "special", deal.ResolvedDriverID, "entity override wins")

	note, ok := r.Lookup("note")
	require.True(t, ok)
	assert.Equal(t, "chromem", note.ResolvedDriverID, "registry default applies")
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry("chromem", nil)
	r.Register(ModuleConfig{Entities: []Config{{EntityID: "company", Icon: "old"}}})
	r.Register(ModuleConfig{Entities: []Config{{EntityID: "company", Icon: "new"}}})

	reg, ok := r.Lookup("company")
	require.True(t, ok)
	assert.Equal(t, "new", reg.Icon)
}

func TestRegistry_EnabledSkipsDisabled(t *testing.T) {
	r := NewRegistry("chromem", nil)
	r.Register(ModuleConfig{Entities: []Config{
		{EntityID: "company"},
		{EntityID: "draft", Disabled: true},
		{EntityID: "deal"},
	}})

	assert.Equal(t, []string{"company", "deal"}, r.Enabled())
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry("chromem", nil)
	_, ok := r.Lookup("ghost")
	assert.False(t, ok)
}
