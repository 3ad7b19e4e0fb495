package crypto

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) Adapter {
	t.Helper()
	a, err := NewAESAdapter(Config{Enabled: true, MasterKey: "test-master-key"}, nil)
	require.NoError(t, err)
	require.True(t, a.Enabled())
	return a
}

func TestAESAdapter_RoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	fields := map[string]string{"title": "Acme Corp", "snapshot": "industrial supplier"}
	enc := a.EncryptPayload(ctx, "t1", "", fields)

	for name, value := range enc {
		assert.True(t, strings.HasPrefix(value, "enc:v1:"), "field %s not encrypted", name)
		assert.NotEqual(t, fields[name], value)
	}

	dec := a.DecryptPayload(ctx, "t1", "", enc)
	assert.Equal(t, fields, dec)
}

func TestAESAdapter_TenantKeysDiffer(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	enc := a.EncryptPayload(ctx, "t1", "", map[string]string{"title": "secret"})

	// Another tenant's key fails authentication; fail-open returns the
	// stored ciphertext unchanged.
	dec := a.DecryptPayload(ctx, "t2", "", enc)
	assert.Equal(t, enc["title"], dec["title"])
}

func TestAESAdapter_PlaintextPassthrough(t *testing.T) {
	a := newTestAdapter(t)

	fields := map[string]string{"title": "never encrypted"}
	dec := a.DecryptPayload(context.Background(), "t1", "", fields)
	assert.Equal(t, fields, dec)
}

func TestAESAdapter_TamperedCiphertextPassthrough(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	enc := a.EncryptPayload(ctx, "t1", "", map[string]string{"title": "secret"})
	tampered := enc["title"][:len(enc["title"])-2] + "xx"

	dec := a.DecryptPayload(ctx, "t1", "", map[string]string{"title": tampered})
	assert.Equal(t, tampered, dec["title"])
}

func TestAESAdapter_EmptyValuesSkipped(t *testing.T) {
	a := newTestAdapter(t)

	enc := a.EncryptPayload(context.Background(), "t1", "", map[string]string{"subtitle": ""})
	assert.Equal(t, "", enc["subtitle"])
}

func TestNewAESAdapter_Validation(t *testing.T) {
	_, err := NewAESAdapter(Config{Enabled: true}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	a, err := NewAESAdapter(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, a.Enabled())
}

func TestDisabled_Identity(t *testing.T) {
	a := Disabled()
	fields := map[string]string{"title": "plain"}

	assert.Equal(t, fields, a.EncryptPayload(context.Background(), "t1", "", fields))
	assert.Equal(t, fields, a.DecryptPayload(context.Background(), "t1", "", fields))
}
