package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusHandlerWithoutBackends(t *testing.T) {
	handler := newStatusHandler(nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("status payload should be JSON: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if resp.SchedulerRunning {
		t.Fatal("no scheduler means not running")
	}
	if resp.Database.Connected {
		t.Fatal("no store means not connected")
	}
}
