package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"aiohub/internal/config"
	"aiohub/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	logger := slog.New(slog.NewTextHandler(&discardWriter{}, nil))
	s, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRecoverer_PanicReturns500(t *testing.T) {
	s := newTestServer(t)

	handler := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/v1/test", "")
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("recoverer wrote invalid JSON: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = types.GetRequestID(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if seen == "" {
			t.Error("no request ID in context")
		}
		if got := w.Header().Get("X-Request-Id"); got != seen {
			t.Errorf("response header = %q, context = %q", got, seen)
		}
	})

	t.Run("propagates incoming header", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = types.GetRequestID(r.Context())
		}))

		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Header.Set("X-Request-Id", "upstream-id-42")
		handler.ServeHTTP(httptest.NewRecorder(), r)

		if seen != "upstream-id-42" {
			t.Errorf("request ID = %q", seen)
		}
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	s := newTestServer(t)
	handler := s.SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.aiohub.dev"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}))

	r := httptest.NewRequest(http.MethodOptions, "/v1/billing/checkout", nil)
	r.Header.Set("Origin", "https://app.aiohub.dev")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.aiohub.dev" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.aiohub.dev"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/v1/billing/events", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin should be empty for disallowed origin, got %q", got)
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	const adminKey = "ak_live_s3cret"
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	s := newTestServer(t)
	s.Config.Security.AdminAPIKeyHash = types.SecretString(hash)

	handler := s.AdminAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		setHeader  func(r *http.Request)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing key",
			setHeader:  func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_admin_key_missing",
		},
		{
			name: "wrong key",
			setHeader: func(r *http.Request) {
				r.Header.Set("X-Admin-Api-Key", "ak_live_wrong")
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_admin_key_invalid",
		},
		{
			name: "valid via header",
			setHeader: func(r *http.Request) {
				r.Header.Set("X-Admin-Api-Key", adminKey)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "valid via bearer token",
			setHeader: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+adminKey)
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRequest(http.MethodGet, "/v1/billing/events", "")
			tt.setHeader(r)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var resp APIErrorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if resp.Error.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantCode)
				}
			}
		})
	}
}
