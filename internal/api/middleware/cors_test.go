package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func corsHandler(t *testing.T, origins []string) http.Handler {
	t.Helper()
	return CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSHeaders(t *testing.T) {
	tests := []struct {
		name        string
		configured  []string
		origin      string
		wantAllowed string
		wantVary    string
	}{
		{"listed origin", []string{"https://chat.example.com"}, "https://chat.example.com", "https://chat.example.com", "Origin"},
		{"unlisted origin", []string{"https://chat.example.com"}, "https://evil.example.com", "", ""},
		{"wildcard", []string{"*"}, "https://anywhere.example.com", "*", ""},
		{"no origin header", []string{"https://chat.example.com"}, "", "", ""},
		{"disabled", nil, "https://chat.example.com", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			corsHandler(t, tt.configured).ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if got := rr.Header().Get("Vary"); got != tt.wantVary {
				t.Errorf("Vary = %q, want %q", got, tt.wantVary)
			}
			if tt.wantAllowed != "" {
				if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
					t.Errorf("Allow-Credentials = %q, want true", got)
				}
				if got := rr.Header().Get("Access-Control-Allow-Headers"); got == "" {
					t.Error("Allow-Headers missing")
				}
			}
		})
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	handler := CORS([]string{"https://chat.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the next handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/contacts", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
		t.Errorf("preflight Allow-Origin = %q", got)
	}
}

func TestCORSPreflightUnknownOriginStillEnds(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/contacts", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	corsHandler(t, []string{"https://chat.example.com"}).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unknown origin got Allow-Origin %q", got)
	}
}

func TestParseCORSOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"https://a.example.com", []string{"https://a.example.com"}},
		{"https://a.example.com, https://b.example.com", []string{"https://a.example.com", "https://b.example.com"}},
		{" https://a.example.com ,, ", []string{"https://a.example.com"}},
		{"*", []string{"*"}},
	}

	for _, tt := range tests {
		if got := ParseCORSOrigins(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCORSOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
