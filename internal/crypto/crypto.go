// Package crypto provides optional at-rest encryption for stored entry
// fields.
//
// Encryption is fail-open in both directions: an encrypt failure stores
// the plaintext and a decrypt failure returns the stored value unchanged,
// with a warning either way. Search availability wins over
// confidentiality when the two conflict.
package crypto

import (
	"context"
	"errors"
)

// ErrInvalidConfig indicates invalid encryption configuration.
var ErrInvalidConfig = errors.New("invalid encryption configuration")

// Adapter encrypts and decrypts the sensitive subset of entry fields.
type Adapter interface {
	// Enabled reports whether encryption is active. When false both
	// transforms are identity functions.
	Enabled() bool

	// EncryptPayload encrypts the given field values for a tenant.
	// Values that fail to encrypt pass through as plaintext.
	EncryptPayload(ctx context.Context, tenantID, orgID string, fields map[string]string) map[string]string

	// DecryptPayload decrypts the given field values for a tenant.
	// Values that are not ciphertext, or fail to decrypt, pass through
	// unchanged.
	DecryptPayload(ctx context.Context, tenantID, orgID string, fields map[string]string) map[string]string
}

// Disabled returns a no-op adapter.
func Disabled() Adapter {
	return disabled{}
}

type disabled struct{}

func (disabled) Enabled() bool { return false }

func (disabled) EncryptPayload(_ context.Context, _, _ string, fields map[string]string) map[string]string {
	return fields
}

func (disabled) DecryptPayload(_ context.Context, _, _ string, fields map[string]string) map[string]string {
	return fields
}
