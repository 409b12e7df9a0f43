package logging

import (
	"context"

	"github.com/google/uuid"
)

// CorrelationKey is the log field name carrying the correlation id.
const CorrelationKey = "correlation_id"

type correlationKey struct{}

// NewCorrelationID returns a fresh id for one inbound event or scheduled fire.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a child context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or "" when none is set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx unchanged when it already carries an id,
// otherwise a child context with a new one.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}
