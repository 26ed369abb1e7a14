package provider

import (
	"fmt"

	"github.com/vietstay/payment-service/internal/domain"
)

// Registry resolves adapters by provider name
type Registry struct {
	providers map[domain.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[domain.Provider]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the adapter for name or an error for unknown providers
func (r *Registry) Get(name domain.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported payment provider %q", name)
	}
	return p, nil
}
