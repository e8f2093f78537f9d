package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type traceIDKey struct{}

// WithTraceID stamps the context with a turn-scoped id, generating one when
// id is empty. The queue sets it at delivery; log lines downstream carry it.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		b := make([]byte, 8)
		rand.Read(b)
		id = hex.EncodeToString(b)
	}
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFromContext returns the turn's trace id, or "" outside a turn.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
