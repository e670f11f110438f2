package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timberline-erp/timberline/internal/shared"
)

func TestMaintenanceGateAllowsReadsWhileSuspended(t *testing.T) {
	status := shared.NewServiceStatus()
	status.Suspend("")

	handler := maintenanceGate(status)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sales/1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected reads to pass, got %d", rr.Code)
	}
}

func TestMaintenanceGateBlocksMutationsWhileSuspended(t *testing.T) {
	status := shared.NewServiceStatus()
	status.Suspend("https://backup.example.com")

	handler := maintenanceGate(status)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sales", strings.NewReader("{}")))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://backup.example.com" {
		t.Fatalf("expected redirect header, got %q", got)
	}
}

func TestMaintenanceGateLeavesAdminReachable(t *testing.T) {
	status := shared.NewServiceStatus()
	status.Suspend("")

	handler := maintenanceGate(status)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/resume", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin route to pass, got %d", rr.Code)
	}
}

func TestMaintenanceGatePassesWhenRunning(t *testing.T) {
	handler := maintenanceGate(shared.NewServiceStatus())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sales", strings.NewReader("{}")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected pass-through, got %d", rr.Code)
	}
}
