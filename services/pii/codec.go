package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/kms"
	"github.com/timekeeperhq/timekeeper/models"
)

// Codec encrypts and decrypts personal fields through the key provider
// registry. Stored values are either kms envelopes or legacy plaintext left
// over from before field encryption shipped; the latter decrypts to itself.
type Codec struct {
	registry *kms.Registry
	secret   string
	logger   *zap.Logger
}

// NewCodec creates a new PII codec
func NewCodec(registry *kms.Registry, secret string, logger *zap.Logger) *Codec {
	return &Codec{
		registry: registry,
		secret:   secret,
		logger:   logger,
	}
}

// EncryptField encrypts a single field with the active provider and returns
// the encoded envelope. Empty values stay empty.
func (c *Codec) EncryptField(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	env, err := c.registry.Active().Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return env.Encode()
}

// DecryptField decrypts a stored field. Envelopes resolve their provider by
// the id embedded in the envelope, so rotation never strands old rows. A
// value without the envelope prefix is legacy plaintext and passes through
// unchanged. Any failure on an actual envelope is an error; callers must not
// serve a field they could not decrypt.
func (c *Codec) DecryptField(stored string) (string, error) {
	env, err := kms.ParseEnvelope(stored)
	if err != nil {
		return "", err
	}
	if env == nil {
		return stored, nil
	}

	provider, err := c.registry.ByID(env.ProviderID)
	if err != nil {
		c.logger.Warn("pii decrypt with unknown provider", zap.String("provider_id", env.ProviderID))
		return "", kms.ErrDecryptFailed
	}

	plaintext, err := provider.Decrypt(env.Nonce, env.Ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SealUser encrypts the user's personal fields in place before persistence.
func (c *Codec) SealUser(user *models.User) error {
	var err error
	if user.FullName, err = c.EncryptField(user.FullName); err != nil {
		return err
	}
	if user.Email, err = c.EncryptField(user.Email); err != nil {
		return err
	}
	if user.MFASecret, err = c.EncryptField(user.MFASecret); err != nil {
		return err
	}
	return nil
}

// HydrateUser decrypts the user's personal fields in place after loading.
func (c *Codec) HydrateUser(user *models.User) error {
	var err error
	if user.FullName, err = c.DecryptField(user.FullName); err != nil {
		return err
	}
	if user.Email, err = c.DecryptField(user.Email); err != nil {
		return err
	}
	if user.MFASecret, err = c.DecryptField(user.MFASecret); err != nil {
		return err
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail produces the deterministic lookup digest for an email. Encrypted
// ciphertext is randomized per write, so equality lookups go through this
// hash column instead.
func (c *Codec) HashEmail(email string) string {
	h := sha256.New()
	h.Write([]byte(c.secret))
	h.Write([]byte("|"))
	h.Write([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(h.Sum(nil))
}
