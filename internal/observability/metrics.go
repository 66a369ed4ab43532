package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultNamespace = "hydrofirma"

// Metrics collects request and authentication counters and serves them in
// the Prometheus text exposition format. A nil *Metrics is a valid no-op.
type Metrics struct {
	namespace string
	version   string

	mu        sync.RWMutex
	requests  map[requestKey]*atomic.Int64
	durations map[string]*window
	auth      map[authKey]*atomic.Int64

	rateLimited atomic.Int64
	inFlight    atomic.Int64
}

type requestKey struct {
	method, route string
	status        int
}

type authKey struct {
	event, outcome string
}

// NewMetrics creates a collector. An empty namespace defaults to "hydrofirma".
func NewMetrics(namespace, version string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if version == "" {
		version = "dev"
	}
	return &Metrics{
		namespace: namespace,
		version:   version,
		requests:  make(map[requestKey]*atomic.Int64),
		durations: make(map[string]*window),
		auth:      make(map[authKey]*atomic.Int64),
	}
}

// RecordRequest counts a finished HTTP request. route should be the matched
// mux pattern so the label set stays bounded.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	rk := requestKey{method: method, route: route, status: status}
	dk := method + " " + route

	m.mu.RLock()
	c, okc := m.requests[rk]
	w, okw := m.durations[dk]
	m.mu.RUnlock()
	if !okc || !okw {
		m.mu.Lock()
		if c, okc = m.requests[rk]; !okc {
			c = &atomic.Int64{}
			m.requests[rk] = c
		}
		if w, okw = m.durations[dk]; !okw {
			w = newWindow(1024)
			m.durations[dk] = w
		}
		m.mu.Unlock()
	}
	c.Add(1)
	w.observe(d.Seconds())
}

// RecordAuth counts an authentication event such as ("signin", "failure").
func (m *Metrics) RecordAuth(event, outcome string) {
	if m == nil {
		return
	}
	k := authKey{event: event, outcome: outcome}
	m.mu.RLock()
	c, ok := m.auth[k]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if c, ok = m.auth[k]; !ok {
			c = &atomic.Int64{}
			m.auth[k] = c
		}
		m.mu.Unlock()
	}
	c.Add(1)
}

// RecordRateLimited counts a request rejected with 429.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Add(1)
}

// AuthCount returns the current value of an auth counter.
func (m *Metrics) AuthCount(event, outcome string) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.auth[authKey{event: event, outcome: outcome}]; ok {
		return c.Load()
	}
	return 0
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if m == nil {
			return
		}
		m.Expose(w)
	})
}

// Expose writes every metric family to w.
func (m *Metrics) Expose(w io.Writer) {
	ns := m.namespace
	family(w, ns+"_info", "gauge", "Application information")
	fmt.Fprintf(w, "%s_info{version=%q} 1\n\n", ns, m.version)

	m.mu.RLock()
	defer m.mu.RUnlock()

	family(w, ns+"_http_requests_total", "counter", "HTTP requests by method, route and status")
	rkeys := make([]requestKey, 0, len(m.requests))
	for k := range m.requests {
		rkeys = append(rkeys, k)
	}
	slices.SortFunc(rkeys, func(a, b requestKey) int {
		if c := strings.Compare(a.route, b.route); c != 0 {
			return c
		}
		if c := strings.Compare(a.method, b.method); c != 0 {
			return c
		}
		return a.status - b.status
	})
	for _, k := range rkeys {
		fmt.Fprintf(w, "%s_http_requests_total{method=%q,route=%q,status=\"%d\"} %d\n",
			ns, k.method, k.route, k.status, m.requests[k].Load())
	}
	fmt.Fprintln(w)

	family(w, ns+"_http_request_duration_seconds", "summary", "HTTP request latency")
	dkeys := make([]string, 0, len(m.durations))
	for k := range m.durations {
		dkeys = append(dkeys, k)
	}
	sort.Strings(dkeys)
	for _, k := range dkeys {
		method, route, _ := strings.Cut(k, " ")
		win := m.durations[k]
		for _, q := range []float64{0.5, 0.9, 0.99} {
			fmt.Fprintf(w, "%s_http_request_duration_seconds{method=%q,route=%q,quantile=\"%.2f\"} %.6f\n",
				ns, method, route, q, win.quantile(q))
		}
		sum, n := win.totals()
		fmt.Fprintf(w, "%s_http_request_duration_seconds_sum{method=%q,route=%q} %.6f\n", ns, method, route, sum)
		fmt.Fprintf(w, "%s_http_request_duration_seconds_count{method=%q,route=%q} %d\n", ns, method, route, n)
	}
	fmt.Fprintln(w)

	family(w, ns+"_auth_events_total", "counter", "Authentication events by outcome")
	akeys := make([]authKey, 0, len(m.auth))
	for k := range m.auth {
		akeys = append(akeys, k)
	}
	slices.SortFunc(akeys, func(a, b authKey) int {
		if c := strings.Compare(a.event, b.event); c != 0 {
			return c
		}
		return strings.Compare(a.outcome, b.outcome)
	})
	for _, k := range akeys {
		fmt.Fprintf(w, "%s_auth_events_total{event=%q,outcome=%q} %d\n", ns, k.event, k.outcome, m.auth[k].Load())
	}
	fmt.Fprintln(w)

	family(w, ns+"_rate_limited_total", "counter", "Requests rejected by a rate limiter")
	fmt.Fprintf(w, "%s_rate_limited_total %d\n\n", ns, m.rateLimited.Load())

	family(w, ns+"_http_in_flight", "gauge", "Requests currently being served")
	fmt.Fprintf(w, "%s_http_in_flight %d\n", ns, m.inFlight.Load())
}

func family(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// Middleware records every request except scrapes of /metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		m.inFlight.Add(1)
		defer m.inFlight.Add(-1)

		start := time.Now()
		route := &routeHolder{}
		r = r.WithContext(context.WithValue(r.Context(), routeKey{}, route))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = route.load()
		}
		m.RecordRequest(r.Method, pattern, sw.status, time.Since(start))
	})
}

type routeKey struct{}

type routeHolder struct {
	mu      sync.Mutex
	pattern string
}

func (h *routeHolder) load() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pattern
}

// TagRoute records the matched mux pattern of r for Middleware. Handlers
// behind middleware that clones the request call it so the label survives.
func TagRoute(r *http.Request) {
	if h, ok := r.Context().Value(routeKey{}).(*routeHolder); ok && r.Pattern != "" {
		h.mu.Lock()
		h.pattern = r.Pattern
		h.mu.Unlock()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// window keeps the most recent samples in a ring for quantile estimates.
type window struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	sum     float64
	count   int64
}

func newWindow(size int) *window {
	return &window{samples: make([]float64, size)}
}

func (w *window) observe(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.sum += v
	w.count++
}

func (w *window) quantile(q float64) float64 {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := slices.Clone(w.samples[:n])
	w.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	idx := q * float64(len(sorted)-1)
	lo := int(idx)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

func (w *window) totals() (float64, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sum, w.count
}
