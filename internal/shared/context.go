package shared

import (
	"context"

	"github.com/google/uuid"
)

// SystemActor identifies changes made by background processing.
const SystemActor = "system:compliance-queue"

// Principal is the resolved caller of a request: the business (tenant) it acts
// for and an actor label written to the audit trail.
type Principal struct {
	BusinessID uuid.UUID
	Actor      string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.BusinessID == uuid.Nil {
		return Principal{}, false
	}
	return p, true
}
