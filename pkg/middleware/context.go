package middleware

import (
	"context"
	"sync"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	principalContextKey     contextKey = "principal"
	principalSlotContextKey contextKey = "principal_slot"
)

// principalSlot lets middleware deeper in the chain publish the caller identity
// to the exchanges filter, which only sees its own copy of the request.
type principalSlot struct {
	mu   sync.Mutex
	name string
}

func (s *principalSlot) set(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *principalSlot) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func withPrincipalSlot(ctx context.Context, slot *principalSlot) context.Context {
	return context.WithValue(ctx, principalSlotContextKey, slot)
}

// WithPrincipal returns a context carrying the authenticated principal name and
// publishes it to an enclosing exchanges filter, if any.
func WithPrincipal(ctx context.Context, name string) context.Context {
	if slot, ok := ctx.Value(principalSlotContextKey).(*principalSlot); ok {
		slot.set(name)
	}
	return context.WithValue(ctx, principalContextKey, name)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(principalContextKey).(string)
	return name, ok && name != ""
}
