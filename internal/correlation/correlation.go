// Package correlation mints and propagates the identifiers that group the
// audit entries of one logical multi-step operation.
package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying a correlation id.
const Header = "X-Correlation-ID"

type ctxKey struct{}

// New returns a fresh random (version 4) UUID in canonical lower-case form.
func New() string {
	return uuid.NewString()
}

// Normalize parses id and returns its canonical hyphenated lower-case form.
// Only the 36-character hyphenated layout is accepted.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if len(id) != 36 {
		return "", false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// Valid reports whether id is a UUID-formatted correlation id.
func Valid(id string) bool {
	_, ok := Normalize(id)
	return ok
}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id stored in ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Ensure returns ctx unchanged when it already carries an id, otherwise a
// child context with a freshly minted one. Top-level operations call it once
// and pass the returned context to every sub-operation.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}
