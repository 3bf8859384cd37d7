package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mocko-designs/gateway/internal/response"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNotFound(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	rec := httptest.NewRecorder()
	NotFound(zap.New(core)).ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/unknown?x=1", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}

	var body response.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Code != response.CodeNotFound {
		t.Errorf("Expected code '%s', got '%s'", response.CodeNotFound, body.Code)
	}
	if body.Error != "Route not found" {
		t.Errorf("Expected error 'Route not found', got '%s'", body.Error)
	}
	if body.Details != "The requested route DELETE /v1/unknown?x=1 was not found" {
		t.Errorf("Unexpected details '%s'", body.Details)
	}
	if logs.FilterMessage("route_not_found").Len() != 1 {
		t.Error("Expected a route_not_found log entry")
	}
}

func TestNotFound_AfterResponseStarted(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	tracker, req := response.Track(rec, httptest.NewRequest("GET", "/nope", nil))
	tracker.WriteHeader(http.StatusTeapot)

	NotFound(zap.NewNop()).ServeHTTP(tracker, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected status 418 to stand, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected no body, got %q", rec.Body.String())
	}
}
