package identity

import "context"

type ctxKey string

const principalKey ctxKey = "hms.principal"

// Principal is the verified caller taken from a bearer token. Profile ids are
// empty unless the role carries one.
type Principal struct {
	UserID    string
	Role      string
	DoctorID  string
	PatientID string
}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the principal if present.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.UserID != ""
}
