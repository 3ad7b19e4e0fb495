package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ciphertextPrefix marks encrypted values so decryption can pass
// plaintext values through unchanged. The version segment allows a
// future key or cipher rotation.
const ciphertextPrefix = "enc:v1:"

// Config holds configuration for the AES-GCM adapter.
type Config struct {
	// Enabled turns field encryption on.
	Enabled bool `koanf:"enabled"`

	// MasterKey is the secret that per-tenant keys derive from.
	MasterKey string `koanf:"master_key"`
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Enabled && c.MasterKey == "" {
		return fmt.Errorf("%w: master key required when encryption is enabled", ErrInvalidConfig)
	}
	return nil
}

// AESAdapter encrypts entry fields with AES-256-GCM under per-tenant
// keys derived from a master key. Tenants never share a key, so a leaked
// tenant key exposes only that tenant's entries.
type AESAdapter struct {
	masterKey []byte
	logger    *zap.Logger

	mu    sync.Mutex
	aeads map[string]cipher.AEAD
}

// NewAESAdapter creates an AES-GCM adapter, or the disabled adapter when
// encryption is off.
func NewAESAdapter(cfg Config, logger *zap.Logger) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return Disabled(), nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AESAdapter{
		masterKey: []byte(cfg.MasterKey),
		logger:    logger,
		aeads:     make(map[string]cipher.AEAD),
	}, nil
}

// Enabled reports whether encryption is active.
func (a *AESAdapter) Enabled() bool { return true }

// aead returns the cached AEAD for a tenant scope, deriving the key on
// first use. The derived key is sha256(master | tenant | org).
func (a *AESAdapter) aead(tenantID, orgID string) (cipher.AEAD, error) {
	scope := tenantID + "\x00" + orgID

	a.mu.Lock()
	defer a.mu.Unlock()

	if aead, ok := a.aeads[scope]; ok {
		return aead, nil
	}

	h := sha256.New()
	h.Write(a.masterKey)
	h.Write([]byte{0})
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(orgID))
	key := h.Sum(nil)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}

	a.aeads[scope] = aead
	return aead, nil
}

// EncryptPayload encrypts each field value. A value that fails to
// encrypt stays plaintext and the failure is logged once per call.
func (a *AESAdapter) EncryptPayload(ctx context.Context, tenantID, orgID string, fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return fields
	}

	aead, err := a.aead(tenantID, orgID)
	if err != nil {
		a.logger.Warn("encryption unavailable, storing plaintext",
			zap.String("tenant", tenantID), zap.Error(err))
		return fields
	}

	out := make(map[string]string, len(fields))
	for name, value := range fields {
		if value == "" {
			out[name] = value
			continue
		}
		enc, err := seal(aead, value)
		if err != nil {
			a.logger.Warn("field encryption failed, storing plaintext",
				zap.String("tenant", tenantID), zap.String("field", name), zap.Error(err))
			out[name] = value
			continue
		}
		out[name] = enc
	}
	return out
}

// DecryptPayload decrypts each field value. Plaintext values and values
// that fail authentication pass through unchanged.
func (a *AESAdapter) DecryptPayload(ctx context.Context, tenantID, orgID string, fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return fields
	}

	aead, err := a.aead(tenantID, orgID)
	if err != nil {
		a.logger.Warn("decryption unavailable, returning stored values",
			zap.String("tenant", tenantID), zap.Error(err))
		return fields
	}

	out := make(map[string]string, len(fields))
	for name, value := range fields {
		if !strings.HasPrefix(value, ciphertextPrefix) {
			out[name] = value
			continue
		}
		dec, err := open(aead, value)
		if err != nil {
			a.logger.Warn("field decryption failed, returning stored value",
				zap.String("tenant", tenantID), zap.String("field", name), zap.Error(err))
			out[name] = value
			continue
		}
		out[name] = dec
	}
	return out
}

func seal(aead cipher.AEAD, plaintext string) (string, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func open(aead cipher.AEAD, value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, ciphertextPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", err)
	}
	return string(plaintext), nil
}
