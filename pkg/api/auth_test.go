package api

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/psaab/slaacd/pkg/config"
)

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestAuthMiddleware(t *testing.T) {
	cfg := AuthConfig{
		Users:   map[string]string{"admin": "secret123"},
		APIKeys: map[string]bool{"tok-abc-123": true},
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware(cfg, ok)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{name: "health bypass", path: "/health", want: http.StatusOK},
		{name: "metrics bypass", path: "/metrics", want: http.StatusOK},
		{name: "no auth", path: "/api/v1/status", want: http.StatusUnauthorized},
		{
			name:   "valid basic auth",
			path:   "/api/v1/status",
			header: map[string]string{"Authorization": basicAuth("admin", "secret123")},
			want:   http.StatusOK,
		},
		{
			name:   "wrong password",
			path:   "/api/v1/status",
			header: map[string]string{"Authorization": basicAuth("admin", "nope")},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "unknown user",
			path:   "/api/v1/status",
			header: map[string]string{"Authorization": basicAuth("root", "secret123")},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "malformed basic",
			path:   "/api/v1/status",
			header: map[string]string{"Authorization": "Basic !!!"},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "valid bearer",
			path:   "/api/v1/slaac",
			header: map[string]string{"Authorization": "Bearer tok-abc-123"},
			want:   http.StatusOK,
		},
		{
			name:   "invalid bearer",
			path:   "/api/v1/slaac",
			header: map[string]string{"Authorization": "Bearer tok-wrong"},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "valid api key header",
			path:   "/api/v1/events",
			header: map[string]string{"X-API-Key": "tok-abc-123"},
			want:   http.StatusOK,
		},
		{
			name:   "invalid api key header",
			path:   "/api/v1/events",
			header: map[string]string{"X-API-Key": "bad"},
			want:   http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestAuthFromConfig(t *testing.T) {
	if a := AuthFromConfig(nil); a != nil {
		t.Errorf("nil config: got %+v, want nil", a)
	}
	if a := AuthFromConfig(&config.APIConfig{Listen: "127.0.0.1:8080"}); a != nil {
		t.Errorf("no credentials: got %+v, want nil", a)
	}

	a := AuthFromConfig(&config.APIConfig{
		Users:   map[string]string{"ops": "pw"},
		APIKeys: []string{"k1", "k2"},
	})
	if a == nil {
		t.Fatal("AuthFromConfig returned nil")
	}
	if !a.APIKeys["k1"] || !a.APIKeys["k2"] || len(a.APIKeys) != 2 {
		t.Errorf("APIKeys = %v", a.APIKeys)
	}
	if a.Users["ops"] != "pw" {
		t.Errorf("Users = %v", a.Users)
	}
}
