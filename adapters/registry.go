package adapters

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/brettbedarf/colstore"
)

// Registry dispatches a [colstore.SourceDescriptor] to the resolver
// registered for its type
type Registry struct {
	mu        sync.RWMutex
	resolvers map[colstore.SourceType]colstore.SourceResolver
}

func NewRegistry() *Registry {
	return &Registry{resolvers: map[colstore.SourceType]colstore.SourceResolver{}}
}

// Register ties a resolver to a source type and should be called for each
// source type during app init. The first registration for a type wins.
func (r *Registry) Register(t colstore.SourceType, resolver colstore.SourceResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resolvers[t]; ok {
		return
	}
	r.resolvers[t] = resolver
}

// GetResolver returns the resolver registered for t
func (r *Registry) GetResolver(t colstore.SourceType) (colstore.SourceResolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolver, ok := r.resolvers[t]
	return resolver, ok
}

// Resolve implements [colstore.SourceResolver]. Every failure is reported
// as a [*colstore.UnsupportedSourceError].
func (r *Registry) Resolve(ctx context.Context, src colstore.SourceDescriptor) (io.ReadCloser, error) {
	resolver, ok := r.GetResolver(src.Type)
	if !ok {
		return nil, colstore.NewUnsupportedSourceError(src, "no resolver registered", nil)
	}

	rc, err := resolver.Resolve(ctx, src)
	if err != nil {
		var ue *colstore.UnsupportedSourceError
		if errors.As(err, &ue) {
			return nil, err
		}
		return nil, colstore.NewUnsupportedSourceError(src, "resolve failed", err)
	}
	return rc, nil
}

var _ colstore.SourceResolver = (*Registry)(nil)
