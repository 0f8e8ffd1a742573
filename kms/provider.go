package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/timekeeperhq/timekeeper/config"
	"go.uber.org/zap"
)

// ErrDecryptFailed is the single error surfaced for any decryption problem:
// bad key, AEAD tag mismatch, malformed input. Callers never learn which.
var ErrDecryptFailed = errors.New("kms: decrypt failed")

// Provider encrypts and decrypts field values under one logical key.
// Implementations are safe for concurrent use.
type Provider interface {
	ProviderID() string
	Encrypt(plaintext []byte) (*Envelope, error)
	Decrypt(nonce, ciphertext []byte) ([]byte, error)
}

// aeadProvider is an AES-256-GCM provider whose key is derived from the
// shared secret plus provider- and deployment-specific context strings.
// It is the local seam standing in for a managed KMS: the aws and gcp
// provider ids exist so envelopes written today remain decryptable when a
// real cloud integration replaces the derivation.
type aeadProvider struct {
	id     string
	aead   cipher.AEAD
	logger *zap.Logger
}

func newAEADProvider(id string, cfg config.KMSConfig, secret string, logger *zap.Logger) (*aeadProvider, error) {
	key := deriveKey(secret, id, cfg.Region, cfg.KeyID)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm init: %w", err)
	}
	return &aeadProvider{id: id, aead: aead, logger: logger}, nil
}

// deriveKey hashes the secret joined with '|'-separated context parts into a
// 32-byte AES key. Changing any context part yields an unrelated key.
func deriveKey(secret string, context ...string) []byte {
	h := sha256.New()
	h.Write([]byte(secret))
	for _, part := range context {
		h.Write([]byte("|"))
		h.Write([]byte(part))
	}
	return h.Sum(nil)
}

func (p *aeadProvider) ProviderID() string {
	return p.id
}

func (p *aeadProvider) Encrypt(plaintext []byte) (*Envelope, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("kms: nonce generation: %w", err)
	}

	ciphertext := p.aead.Seal(nil, nonce, plaintext, nil)
	return &Envelope{
		ProviderID: p.id,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

func (p *aeadProvider) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceLength {
		p.logger.Debug("kms decrypt rejected", zap.String("provider", p.id), zap.Int("nonce_len", len(nonce)))
		return nil, ErrDecryptFailed
	}
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		p.logger.Debug("kms decrypt rejected", zap.String("provider", p.id), zap.Error(err))
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
