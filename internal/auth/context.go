package auth

import (
	"context"

	"github.com/dukerupert/stride/internal/model"
)

type contextKey struct{}

// AuthContext is the authenticated caller. SessionID is zero for bearer
// token requests.
type AuthContext struct {
	UserID    int64
	Plan      model.Plan
	SessionID int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

// Plan returns the caller's plan, or the free plan when unauthenticated.
func Plan(ctx context.Context) model.Plan {
	ac, ok := FromContext(ctx)
	if !ok || !ac.Plan.Valid() {
		return model.PlanFree
	}
	return ac.Plan
}
