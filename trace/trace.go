// Package trace correlates the attempts of one fetch. All attempts share a trace ID,
// and each attempt sends it in a W3C traceparent header with its own span ID.
package trace

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const traceIDKey contextKey = "trace_id"

// HeaderTraceParent is the W3C trace context header name
const HeaderTraceParent = "traceparent"

// ID is a 16-byte W3C trace ID.
type ID [16]byte

// NewID returns a random, non-zero trace ID.
func NewID() ID {
	var id ID
	fillRandom(id[:])
	return id
}

// String returns the lower-case hex form used on the wire.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// WithID adds a trace ID to the context
func WithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// IDFromContext returns the trace ID from context if present
func IDFromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(traceIDKey).(ID)
	return id, ok && !allZero(id[:])
}

// EnsureID returns ctx unchanged when it already carries a trace ID, otherwise a
// child context with a new one.
func EnsureID(ctx context.Context) (context.Context, ID) {
	if id, ok := IDFromContext(ctx); ok {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// TraceParent creates a traceparent header value for id with a fresh span ID.
// Format: version(2)-trace-id(32)-span-id(16)-flags(2), e.g., "00-<32>-<16>-01"
func TraceParent(id ID) string {
	spanID := make([]byte, 8)
	fillRandom(spanID)
	return "00-" + id.String() + "-" + hex.EncodeToString(spanID) + "-01"
}

// fillRandom fills b from crypto/rand. All-zero IDs are invalid, so the last byte
// is forced to 1 if the read fails or happens to produce zeros.
func fillRandom(b []byte) {
	if _, err := crand.Read(b); err != nil {
		clear(b)
	}
	if allZero(b) {
		b[len(b)-1] = 0x01
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
