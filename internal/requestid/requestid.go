// Package requestid propagates run and request IDs through context.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New returns a context carrying a fresh ID, and the ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// WithRequestID attaches id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID in ctx, or a new one when absent.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Logger returns logger annotated with the ID carried by ctx.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	return logger.With().Str("request_id", FromContext(ctx)).Logger()
}
