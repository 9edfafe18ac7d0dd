// Package correlation carries correlation IDs through contexts so related
// log events can be tied together across the pipeline.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

// IDKey is the context key for correlation IDs.
const IDKey = contextKey("correlation-id")

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, IDKey, id)
}

// FromContext extracts the correlation ID from the context.
// Returns empty string if not found.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(IDKey).(string); ok {
		return id
	}
	return ""
}

// Ensure returns ctx and its correlation ID, generating a new one when the
// context carries none.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return NewContext(ctx, id), id
}

// New generates a fresh correlation ID.
func New() string {
	return uuid.New().String()
}
