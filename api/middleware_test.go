package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"condor-aog/config"
	"condor-aog/core/auth"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
)

func newTestServer() *Server {
	return &Server{
		cfg: &config.AppConfig{
			Security: config.SecurityConfig{
				TrustedProxies: []string{"10.0.0.1", "172.16.0.0/12"},
				LoginBurst:     3,
			},
		},
		policy:       rbac.DefaultPolicy(),
		loginLimiter: newLimiter(3, time.Minute),
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func sessionContext(role rbac.Role) context.Context {
	rec := &store.SessionRecord{
		ID:        "sess-1",
		UserID:    "user-1",
		Email:     "test@example.com",
		Role:      string(role),
		CSRFToken: "token",
	}
	return context.WithValue(context.Background(), auth.SessionContextKey, rec)
}

func TestRequireCapabilityWithoutSession(t *testing.T) {
	s := newTestServer()
	h := s.requireCapability(rbac.CapViewFleet)(okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/fleet/aircraft", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireCapabilityDeniesMissingGrant(t *testing.T) {
	s := newTestServer()
	h := s.requireCapability(rbac.CapManageAircraft)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/fleet/aircraft", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(sessionContext(rbac.RoleViewer)))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer on manage_aircraft: status = %d, want 403", rr.Code)
	}
}

func TestRequireCapabilityPassesHeldGrant(t *testing.T) {
	s := newTestServer()
	h := s.requireCapability(rbac.CapManageAircraft)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/fleet/aircraft", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(sessionContext(rbac.RoleOperationsManager)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer()
	rr := httptest.NewRecorder()
	s.securityHeadersMiddleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("nosniff header missing")
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("frame options header missing")
	}
}

func TestLimiterExhaustsAndRefills(t *testing.T) {
	l := newLimiter(2, 50*time.Millisecond)
	if !l.allow("a") || !l.allow("a") {
		t.Fatal("first attempts within capacity must pass")
	}
	if l.allow("a") {
		t.Fatal("attempt over capacity must be rejected")
	}
	if !l.allow("b") {
		t.Fatal("keys must not share a bucket")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.allow("a") {
		t.Fatal("bucket must refill after the window")
	}
}

func TestIsTrustedProxy(t *testing.T) {
	trusted := []string{"10.0.0.1", "172.16.0.0/12"}
	cases := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.2", false},
		{"172.16.4.9", true},
		{"172.32.0.1", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isTrustedProxy(tc.ip, trusted); got != tc.want {
			t.Errorf("isTrustedProxy(%q) = %v, want %v", tc.ip, got, tc.want)
		}
	}
}

func TestExtractClientIPFromXFF(t *testing.T) {
	trusted := []string{"10.0.0.1"}
	if got := extractClientIPFromXFF("203.0.113.7, 10.0.0.1", trusted); got != "203.0.113.7" {
		t.Fatalf("got %q, want rightmost untrusted hop", got)
	}
	if got := extractClientIPFromXFF("garbage, 198.51.100.2", trusted); got != "198.51.100.2" {
		t.Fatalf("got %q, want 198.51.100.2", got)
	}
	if got := extractClientIPFromXFF("10.0.0.1", trusted); got != "" {
		t.Fatalf("all-trusted chain must yield nothing, got %q", got)
	}
}

func TestClientIPIgnoresSpoofedHeaderFromUntrustedPeer(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:4444"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := s.clientIP(req); got != "203.0.113.7" {
		t.Fatalf("got %q, want the peer address", got)
	}
}

func TestClientIPHonorsHeaderFromTrustedProxy(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := s.clientIP(req); got != "203.0.113.7" {
		t.Fatalf("got %q, want the forwarded client", got)
	}
}

func TestWithSessionRejectsMissingCookie(t *testing.T) {
	s := newTestServer()
	rr := httptest.NewRecorder()
	s.withSession(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}
