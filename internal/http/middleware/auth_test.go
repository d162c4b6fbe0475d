package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hms-platform/internal/identity"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Role:     "Doctor",
		DoctorID: "7c1d8a36-1f0b-4d0e-9a55-2b1f0d8f3e11",
	}
}

func TestAuthenticateRejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil
	noRole := validClaims()
	noRole.Role = ""

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"secret unset", "", "Bearer " + signToken(t, "secret", validClaims())},
		{"missing header", "secret", ""},
		{"not bearer", "secret", "Basic abc"},
		{"wrong key", "secret", "Bearer " + signToken(t, "other", validClaims())},
		{"expired", "secret", "Bearer " + signToken(t, "secret", expired)},
		{"no expiry", "secret", "Bearer " + signToken(t, "secret", noExpiry)},
		{"no role", "secret", "Bearer " + signToken(t, "secret", noRole)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			called := false
			Authenticate(tt.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})).ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthenticateStoresPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", validClaims()))
	rec := httptest.NewRecorder()

	var got identity.Principal
	Authenticate("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := identity.PrincipalFromContext(r.Context())
		require.True(t, ok)
		got = p
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", got.UserID)
	assert.Equal(t, "doctor", got.Role)
	assert.Equal(t, "7c1d8a36-1f0b-4d0e-9a55-2b1f0d8f3e11", got.DoctorID)
	assert.Empty(t, got.PatientID)
}
