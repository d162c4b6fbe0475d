package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appconfig "github.com/wolfman30/hms-platform/internal/config"
)

func TestSetupSchedulingMetricsExposesMetrics(t *testing.T) {
	handler, m := setupSchedulingMetrics()
	if handler == nil || m == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	m.ObserveBooking("book", "ok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "hms_scheduling_booking_operations_total") {
		t.Fatalf("expected booking counter to be exported")
	}
}

func TestClinicClockUsesClinicZone(t *testing.T) {
	cfg := &appconfig.Config{ClinicTimezone: "Asia/Tokyo"}
	now := clinicClock(cfg)()
	if now.Location().String() != "Asia/Tokyo" {
		t.Fatalf("expected Asia/Tokyo, got %s", now.Location())
	}
	if time.Since(now) > time.Minute {
		t.Fatalf("clock drifted: %s", now)
	}
}
