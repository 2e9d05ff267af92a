package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockStatusRecorder struct {
	statuses []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

func TestStatusMetricsMiddleware_RecordsStatus(t *testing.T) {
	m := &mockStatusRecorder{}
	handler := NewStatusMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/submission/1/claim", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/submission/1/claim", nil))

	if len(m.statuses) != 2 || m.statuses[0] != http.StatusLocked {
		t.Errorf("statuses = %v, want [423 423]", m.statuses)
	}
}

func TestStatusMetricsMiddleware_ImplicitOK(t *testing.T) {
	m := &mockStatusRecorder{}
	handler := NewStatusMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if len(m.statuses) != 1 || m.statuses[0] != http.StatusOK {
		t.Errorf("statuses = %v, want [200]", m.statuses)
	}
}
