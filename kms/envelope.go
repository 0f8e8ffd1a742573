package kms

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// NonceLength is the AES-GCM nonce size every envelope must carry.
	NonceLength = 12

	envelopeScheme  = "kms"
	envelopeVersion = "v1"
	envelopePrefix  = envelopeScheme + ":" + envelopeVersion + ":"

	// PseudoProviderID is the implicit provider bound to legacy envelopes
	// written before the provider id was part of the wire format.
	PseudoProviderID = "pseudo"
	// AWSProviderID identifies the AWS-context key provider.
	AWSProviderID = "aws"
	// GCPProviderID identifies the GCP-context key provider.
	GCPProviderID = "gcp"
)

// b64 is the unpadded standard encoding used for nonce and ciphertext fields.
var b64 = base64.StdEncoding.WithPadding(base64.NoPadding)

// Envelope is the parsed form of a stored ciphertext string:
// kms:v1:<provider-id>:<base64-nonce>:<base64-ciphertext>.
// The legacy four-field shape kms:v1:<nonce>:<ciphertext> is still accepted
// on read and binds to the pseudo provider.
type Envelope struct {
	ProviderID string
	Nonce      []byte
	Ciphertext []byte
}

// Encode serializes the envelope into its five-field wire form.
func (e *Envelope) Encode() (string, error) {
	if len(e.Nonce) != NonceLength {
		return "", fmt.Errorf("invalid nonce length %d", len(e.Nonce))
	}
	if e.ProviderID == "" {
		return "", fmt.Errorf("missing provider id")
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		envelopeScheme,
		envelopeVersion,
		e.ProviderID,
		b64.EncodeToString(e.Nonce),
		b64.EncodeToString(e.Ciphertext),
	), nil
}

// ParseEnvelope parses a stored value. A string that does not carry the
// kms:v1: prefix is not an envelope and yields (nil, nil); a prefixed string
// that fails to parse is an error.
func ParseEnvelope(stored string) (*Envelope, error) {
	if !strings.HasPrefix(stored, envelopePrefix) {
		return nil, nil
	}

	parts := strings.Split(stored, ":")

	var providerID, noncePart, cipherPart string
	switch len(parts) {
	case 4:
		// Legacy shape: kms:v1:<nonce>:<ciphertext>
		providerID = PseudoProviderID
		noncePart = parts[2]
		cipherPart = parts[3]
	case 5:
		providerID = parts[2]
		noncePart = parts[3]
		cipherPart = parts[4]
		if providerID == "" {
			return nil, fmt.Errorf("empty provider id in envelope")
		}
	default:
		return nil, fmt.Errorf("invalid envelope format: %d fields", len(parts))
	}

	nonce, err := b64.DecodeString(noncePart)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce encoding")
	}
	if len(nonce) != NonceLength {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	ciphertext, err := b64.DecodeString(cipherPart)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding")
	}

	return &Envelope{
		ProviderID: providerID,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}
