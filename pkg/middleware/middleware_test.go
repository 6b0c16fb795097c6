package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/tracing"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("minted id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("propagated id = %q, want abc", seen)
	}
}

func TestUser(t *testing.T) {
	tests := []struct {
		path   string
		header string
		status int
		user   string
	}{
		{"/api/v1/activities/search", "alice", http.StatusOK, "alice"},
		{"/api/v1/activities/search", "", http.StatusUnauthorized, ""},
		{"/health/live", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		var user string
		h := User(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user = GetUserKey(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.header != "" {
			req.Header.Set(UserKeyHeader, tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.status || user != tt.user {
			t.Errorf("%s with %q: status %d user %q, want %d %q", tt.path, tt.header, rec.Code, user, tt.status, tt.user)
		}
	}
}

func TestUserAdmin(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"true", true},
		{"", false},
		{"yes", false},
	}
	for _, tt := range tests {
		var admin bool
		h := User(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin = IsAdmin(r.Context())
		}))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/lists/invalidate", nil)
		req.Header.Set(UserKeyHeader, "alice")
		if tt.header != "" {
			req.Header.Set(UserAdminHeader, tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if admin != tt.want {
			t.Errorf("%s %q: IsAdmin = %v, want %v", UserAdminHeader, tt.header, admin, tt.want)
		}
	}
}

func TestTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	rec := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}

	fast := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Brew", "earl grey")
		w.WriteHeader(http.StatusTeapot)
	})
	rec = httptest.NewRecorder()
	Timeout(time.Second)(fast).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
	if got := rec.Header().Get("X-Brew"); got != "earl grey" {
		t.Errorf("X-Brew = %q, want %q", got, "earl grey")
	}
}

// Run with -race: the handler keeps writing after the middleware has
// already answered 504 and returned.
func TestTimeoutDropsLateWrites(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan error, 1)
	late := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		<-release
		w.Header().Set("X-Late", "1")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("late body"))
		finished <- err
	})

	rec := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(late).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	close(release)
	if err := <-finished; err != http.ErrHandlerTimeout {
		t.Errorf("late Write error = %v, want %v", err, http.ErrHandlerTimeout)
	}

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
	if got := rec.Body.String(); got != `{"error":"request timeout"}` {
		t.Errorf("body = %q, want the timeout error", got)
	}
	if got := rec.Header().Get("X-Late"); got != "" {
		t.Errorf("X-Late = %q, want it dropped", got)
	}
}

func TestTraceOpensRootSpan(t *testing.T) {
	var span *tracing.Span
	h := RequestID(Trace(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span = tracing.SpanFromContext(r.Context())
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activities/search", nil)
	req.Header.Set(RequestIDHeader, "trace-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if span == nil {
		t.Fatal("no span in handler context")
	}
	if span.TraceID != "trace-7" || span.Name != "GET /api/v1/activities/search" {
		t.Errorf("span = %q/%q", span.TraceID, span.Name)
	}
	if span.EndTime.IsZero() {
		t.Error("span was not ended")
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/activities/search", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/activities/search", "404")); got != 1 {
		t.Errorf("search requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "other", "404")); got != 1 {
		t.Errorf("other requests = %v, want 1", got)
	}
}
