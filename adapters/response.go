package adapters

import (
	"context"
	"io"

	"github.com/brettbedarf/colstore"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Responses holds in-flight HTTP response bodies until a stream claims them.
// Each body can be resolved exactly once.
type Responses struct {
	bodies *xsync.Map[string, io.ReadCloser]
}

func NewResponses() *Responses {
	return &Responses{bodies: xsync.NewMap[string, io.ReadCloser]()}
}

// Put registers body and returns its response id
func (r *Responses) Put(body io.ReadCloser) string {
	id := uuid.NewString()
	r.bodies.Store(id, body)
	return id
}

// Resolve hands the body over to the caller and forgets it
func (r *Responses) Resolve(_ context.Context, src colstore.SourceDescriptor) (io.ReadCloser, error) {
	if src.Type != colstore.ResponseSourceType {
		return nil, colstore.NewUnsupportedSourceError(src, "not a response source", nil)
	}
	body, ok := r.bodies.LoadAndDelete(src.ResponseID)
	if !ok {
		return nil, colstore.NewUnsupportedSourceError(src, "unknown or already streamed response", nil)
	}
	return body, nil
}

// Discard closes and forgets an unclaimed response body
func (r *Responses) Discard(id string) bool {
	body, ok := r.bodies.LoadAndDelete(id)
	if ok {
		body.Close() // nolint:errcheck
	}
	return ok
}

// Close discards every unclaimed body
func (r *Responses) Close() {
	r.bodies.Range(func(id string, _ io.ReadCloser) bool {
		r.Discard(id)
		return true
	})
}

// Len returns the number of unclaimed bodies
func (r *Responses) Len() int {
	return r.bodies.Size()
}

var _ colstore.SourceResolver = (*Responses)(nil)
