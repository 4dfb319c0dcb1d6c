package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func securityResponse(t *testing.T, tlsEnabled bool) *httptest.ResponseRecorder {
	t.Helper()
	handler := SecurityHeaders(tlsEnabled)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	return rr
}

func TestSecurityHeadersAlwaysSet(t *testing.T) {
	rr := securityResponse(t, false)

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"X-XSS-Protection":       "0",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := rr.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestSecurityHeadersCSP(t *testing.T) {
	csp := securityResponse(t, false).Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Fatal("Content-Security-Policy missing")
	}

	// The websocket needs an explicit connect-src carve-out.
	for _, directive := range []string{"default-src 'self'", "connect-src 'self' ws: wss:", "frame-ancestors 'none'"} {
		if !strings.Contains(csp, directive) {
			t.Errorf("CSP missing %q: %s", directive, csp)
		}
	}
}

func TestSecurityHeadersPermissionsPolicy(t *testing.T) {
	pp := securityResponse(t, false).Header().Get("Permissions-Policy")

	// Calls need same-origin camera and microphone access.
	if !strings.Contains(pp, "camera=(self)") || !strings.Contains(pp, "microphone=(self)") {
		t.Errorf("Permissions-Policy should allow same-origin camera and microphone: %q", pp)
	}
	if !strings.Contains(pp, "geolocation=()") {
		t.Errorf("Permissions-Policy should deny geolocation: %q", pp)
	}
}

func TestSecurityHeadersHSTS(t *testing.T) {
	if got := securityResponse(t, false).Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS should be absent on plain HTTP, got %q", got)
	}

	got := securityResponse(t, true).Header().Get("Strict-Transport-Security")
	if !strings.Contains(got, "max-age=") || !strings.Contains(got, "includeSubDomains") {
		t.Errorf("HSTS = %q, want max-age and includeSubDomains", got)
	}
}
