package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsDefaults(t *testing.T) {
	m := NewMetrics("", "")
	if m.namespace != "hydrofirma" {
		t.Errorf("namespace = %q", m.namespace)
	}
	if m.version != "dev" {
		t.Errorf("version = %q", m.version)
	}
}

func TestMetricsHandlerOutput(t *testing.T) {
	m := NewMetrics("hf", "1.2.3")
	m.RecordRequest(http.MethodGet, "GET /dashboard", http.StatusOK, 20*time.Millisecond)
	m.RecordRequest(http.MethodGet, "GET /dashboard", http.StatusOK, 40*time.Millisecond)
	m.RecordRequest(http.MethodPost, "", http.StatusNotFound, time.Millisecond)
	m.RecordAuth("signin", "failure")
	m.RecordAuth("signin", "failure")
	m.RecordRateLimited()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`hf_info{version="1.2.3"} 1`,
		`hf_http_requests_total{method="GET",route="GET /dashboard",status="200"} 2`,
		`hf_http_requests_total{method="POST",route="unmatched",status="404"} 1`,
		`hf_http_request_duration_seconds_count{method="GET",route="GET /dashboard"} 2`,
		`hf_auth_events_total{event="signin",outcome="failure"} 2`,
		`hf_rate_limited_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestMetricsHandlerRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMetrics("", "").Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMetricsMiddlewareUsesPattern(t *testing.T) {
	m := NewMetrics("hf", "")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(mux)

	for _, id := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/users/"+id, nil))
	}

	var sb strings.Builder
	m.Expose(&sb)
	want := `hf_http_requests_total{method="GET",route="GET /admin/users/{id}",status="418"} 3`
	if !strings.Contains(sb.String(), want) {
		t.Errorf("missing %q in output:\n%s", want, sb.String())
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest(http.MethodGet, "/", 200, time.Millisecond)
	m.RecordAuth("signup", "success")
	m.RecordRateLimited()
	if got := m.AuthCount("signup", "success"); got != 0 {
		t.Errorf("AuthCount = %d", got)
	}
	called := false
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil metrics middleware should pass through")
	}
}

func TestWindowQuantiles(t *testing.T) {
	w := newWindow(4)
	if w.quantile(0.5) != 0 {
		t.Error("empty window should report 0")
	}
	for _, v := range []float64{1, 2, 3, 4, 5, 6} {
		w.observe(v)
	}
	// ring holds 3,4,5,6 after wrapping
	if got := w.quantile(0); got != 3 {
		t.Errorf("q0 = %v, want 3", got)
	}
	if got := w.quantile(1); got != 6 {
		t.Errorf("q1 = %v, want 6", got)
	}
	sum, n := w.totals()
	if sum != 21 || n != 6 {
		t.Errorf("totals = %v, %d", sum, n)
	}
}

func TestTagRouteSurvivesClonedRequest(t *testing.T) {
	m := NewMetrics("hf", "")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /settings/{form}", func(w http.ResponseWriter, r *http.Request) {
		TagRoute(r)
	})
	cloning := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(r.Context()))
		})
	}
	m.Middleware(cloning(mux)).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/settings/email", nil))

	var sb strings.Builder
	m.Expose(&sb)
	want := `route="POST /settings/{form}",status="200"} 1`
	if !strings.Contains(sb.String(), want) {
		t.Errorf("missing %q in output:\n%s", want, sb.String())
	}
}
