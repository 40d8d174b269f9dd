package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type recordedRequest struct {
	route  string
	method string
	status int
}

type mockHTTPRecorder struct {
	records []recordedRequest
}

func (m *mockHTTPRecorder) RecordHTTPRequest(route, method string, status int, _ time.Duration) {
	m.records = append(m.records, recordedRequest{route: route, method: method, status: status})
}

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	rec := &mockHTTPRecorder{}
	r := chi.NewRouter()
	r.Use(NewMetricsMiddleware(rec))
	r.Delete("/api/users/{id}/favorites/{eventId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/users/u1/favorites/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if len(rec.records) != 2 {
		t.Fatalf("records = %d, want 2", len(rec.records))
	}
	want := recordedRequest{route: "/api/users/{id}/favorites/{eventId}", method: http.MethodDelete, status: http.StatusOK}
	if rec.records[0] != want {
		t.Errorf("record[0] = %+v, want %+v", rec.records[0], want)
	}
	if rec.records[1].status != http.StatusNotFound {
		t.Errorf("record[1].status = %d, want 404", rec.records[1].status)
	}
}

func TestMetricsMiddleware_UnmatchedWithoutRouter(t *testing.T) {
	rec := &mockHTTPRecorder{}
	handler := NewMetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if len(rec.records) != 1 || rec.records[0].route != "unmatched" || rec.records[0].status != http.StatusTeapot {
		t.Errorf("records = %+v", rec.records)
	}
}
