package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hms-platform/internal/events"
	httpmiddleware "github.com/wolfman30/hms-platform/internal/http/middleware"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

const testSecret = "router-secret"

type routerEnv struct {
	handler  http.Handler
	doctorID uuid.UUID
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) routerEnv {
	t.Helper()
	logger := logging.Default()
	store := scheduling.NewMemoryStore(events.NewMemoryOutbox())
	doctorID := uuid.New()
	store.RegisterDoctor(doctorID, scheduling.Availability{"2025-06-01": {"10:00"}})

	slots := scheduling.NewSlotAvailability(store, nil, logger)
	lifecycle := scheduling.NewLifecycle(store, logger)
	booking := scheduling.NewBookingService(store, slots, lifecycle, logger)
	appointments := scheduling.NewAppointmentStore(store, nil)

	return routerEnv{
		handler: New(&Config{
			Logger:             logger,
			SchedulingHandler:  scheduling.NewHandler(booking, slots, appointments, logger),
			JWTSecret:          testSecret,
			CORSAllowedOrigins: []string{"https://portal.hospital.test"},
			HealthChecks:       checks,
		}),
		doctorID: doctorID,
	}
}

func bearer(t *testing.T, claims httpmiddleware.Claims) string {
	t.Helper()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	env := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ok", resp["postgres"])
}

func TestRouterHealthDegraded(t *testing.T) {
	env := newTestRouter(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

func TestRouterAPIRequiresToken(t *testing.T) {
	env := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/appointments", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterBookAndList(t *testing.T) {
	env := newTestRouter(t, nil)
	patientID := uuid.New()
	patientAuth := bearer(t, httpmiddleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "patient-user"},
		Role:             "patient",
		PatientID:        patientID.String(),
	})

	body := `{"doctorId":"` + env.doctorID.String() + `","date":"2025-06-01","time":"10:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", strings.NewReader(body))
	req.Header.Set("Authorization", patientAuth)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/api/patients/me/appointments?view=all", nil)
	req.Header.Set("Authorization", patientAuth)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":1`)

	adminAuth := bearer(t, httpmiddleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-user"},
		Role:             "admin",
	})
	req = httptest.NewRequest(http.MethodGet, "/api/admin/summary", nil)
	req.Header.Set("Authorization", adminAuth)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"booked":1`)
}

func TestRouterCORSPreflight(t *testing.T) {
	env := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/appointments", nil)
	req.Header.Set("Origin", "https://portal.hospital.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://portal.hospital.test", rr.Header().Get("Access-Control-Allow-Origin"))
}
