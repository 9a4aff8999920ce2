// Package provider fetches fresh per-source payloads for profile refresh.
// Each source kind gets one Provider; the Registry dispatches by kind.
package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/model"
)

// Provider resolves a fresh payload for one entity from one source. A nil
// update with a nil error means the source has nothing for the entity.
type Provider interface {
	Kind() model.SourceKind
	Fetch(ctx context.Context, entityKey string) (*model.SourceUpdate, error)
}

// Registry routes fetches to the provider registered for each source kind.
type Registry struct {
	providers map[model.SourceKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.SourceKind]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Fetch dispatches to the provider for kind.
func (r *Registry) Fetch(ctx context.Context, entityKey string, kind model.SourceKind) (*model.SourceUpdate, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, eris.Errorf("provider: no provider registered for source %q", kind)
	}
	return p.Fetch(ctx, entityKey)
}

// Kinds lists the registered source kinds in canonical order.
func (r *Registry) Kinds() []model.SourceKind {
	var out []model.SourceKind
	for _, kind := range model.AllSourceKinds {
		if _, ok := r.providers[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}
