package kms

import (
	"fmt"

	"github.com/timekeeperhq/timekeeper/config"
	"go.uber.org/zap"
)

// Registry resolves key providers. It is built once at startup and read-only
// afterwards, so it may be shared across concurrent requests without locking.
// New writes go through Active; reads resolve the provider id embedded in the
// stored envelope, which is what keeps old ciphertext decryptable across a
// provider rotation.
type Registry struct {
	active    Provider
	providers map[string]Provider
}

// NewRegistry constructs all known providers from configuration and selects
// the active one for new writes.
func NewRegistry(cfg config.KMSConfig, secret string, logger *zap.Logger) (*Registry, error) {
	providers := make(map[string]Provider, 3)
	for _, id := range []string{PseudoProviderID, AWSProviderID, GCPProviderID} {
		p, err := newAEADProvider(id, cfg, secret, logger)
		if err != nil {
			return nil, err
		}
		providers[id] = p
	}

	active, ok := providers[cfg.ActiveProvider]
	if !ok {
		return nil, fmt.Errorf("kms: unsupported provider %q", cfg.ActiveProvider)
	}

	logger.Info("kms registry initialized", zap.String("active_provider", cfg.ActiveProvider))
	return &Registry{active: active, providers: providers}, nil
}

// Active returns the provider used for new encryptions.
func (r *Registry) Active() Provider {
	return r.active
}

// ByID returns the provider that produced an existing envelope.
func (r *Registry) ByID(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("kms: unsupported provider %q", id)
	}
	return p, nil
}
