// Package platforms holds the adapters that talk to external business
// platforms. Every adapter exposes the same pull/push capability and is
// looked up by platform id.
package platforms

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownPlatform    = errors.New("platforms: unknown platform")
	ErrUnsupportedEntity  = errors.New("platforms: entity type not supported")
	ErrCredentialsMissing = errors.New("platforms: credentials missing")
)

// Credentials are the stored secrets for one integration. APIKey-based
// platforms carry the key in AccessToken.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Account      string
}

type ExternalRecord struct {
	ExternalId string
	UpdatedAt  time.Time
	Data       map[string]any
}

type OutboundRecord struct {
	CanonicalId string
	// ExternalId is empty when the record has never been pushed.
	ExternalId string
	Data       map[string]any
}

type PushResult struct {
	CanonicalId string
	ExternalId  string
	Created     bool
	Err         error
}

type Adapter interface {
	Platform() string
	Category() string
	Pull(ctx context.Context, creds Credentials, entityType string, since *time.Time) ([]ExternalRecord, error)
	Push(ctx context.Context, creds Credentials, entityType string, records []OutboundRecord) ([]PushResult, error)
}

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds a or replaces the adapter already registered for its platform.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	if !ok {
		return nil, ErrUnknownPlatform
	}
	return a, nil
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
