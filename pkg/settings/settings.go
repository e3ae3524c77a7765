// Package settings provides cached key/value lookups such as the active identification model.
package settings

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Well-known keys
const (
	KeyIdentificationModel = "identification_model"
)

// DefaultTTL is how long a looked-up value is served from memory
const DefaultTTL = 60 * time.Second

// Backend persists settings
type Backend interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Provider reads settings through a short TTL cache
type Provider struct {
	backend  Backend
	cache    *cache.Cache
	defaults map[string]string
}

// NewProvider creates a provider. Values in defaults are returned for keys the backend lacks.
func NewProvider(backend Backend, ttl time.Duration, defaults map[string]string) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		backend:  backend,
		cache:    cache.New(ttl, ttl*2),
		defaults: defaults,
	}
}

type entry struct {
	value string
	found bool
}

// Get returns the value for key and whether it was set or defaulted
func (p *Provider) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := p.cache.Get(key); ok {
		e := v.(entry)
		return e.value, e.found, nil
	}

	value, found, err := p.backend.GetSetting(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !found {
		if d, ok := p.defaults[key]; ok {
			value, found = d, true
		}
	}
	p.cache.SetDefault(key, entry{value: value, found: found})
	return value, found, nil
}

// GetString returns the value for key or fallback when unset
func (p *Provider) GetString(ctx context.Context, key, fallback string) (string, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil {
		return fallback, err
	}
	if !ok || v == "" {
		return fallback, nil
	}
	return v, nil
}

// Set persists value and invalidates the cached copy
func (p *Provider) Set(ctx context.Context, key, value string) error {
	if err := p.backend.SetSetting(ctx, key, value); err != nil {
		return err
	}
	p.cache.Delete(key)
	return nil
}
