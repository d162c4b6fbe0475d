package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/hms-platform/internal/identity"
)

// Claims is the bearer token payload issued by the hospital identity service.
// Subject is the user id; DoctorID or PatientID is set for clinical roles.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	DoctorID  string `json:"doctor_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
}

// Principal converts verified claims into the identity carried on the context.
func (c Claims) Principal() identity.Principal {
	return identity.Principal{
		UserID:    c.Subject,
		Role:      strings.ToLower(strings.TrimSpace(c.Role)),
		DoctorID:  c.DoctorID,
		PatientID: c.PatientID,
	}
}

// Authenticate enforces an HMAC-signed JWT and stores the caller's principal
// on the request context.
func Authenticate(secret string) func(http.Handler) http.Handler {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			var claims Claims
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, keyFunc,
				jwt.WithExpirationRequired())
			if err != nil || !token.Valid || claims.Subject == "" || claims.Role == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := identity.WithPrincipal(r.Context(), claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
