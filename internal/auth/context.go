package auth

import "context"

type contextKey string

const authContextKey contextKey = "meridian_auth"

// AuthInfo is the caller identity attached to an authenticated request. It is
// used for logging and usage correlation only.
type AuthInfo struct {
	KeyID          string
	OrganizationID string
	TeamID         string
	UserID         string
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
