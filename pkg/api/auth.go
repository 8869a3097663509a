package api

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/psaab/slaacd/pkg/config"
)

// AuthConfig holds the credentials accepted by the API.
type AuthConfig struct {
	Users   map[string]string // username -> password
	APIKeys map[string]bool
}

// AuthFromConfig returns the credentials in cfg, or nil when none are
// configured and the API is open.
func AuthFromConfig(cfg *config.APIConfig) *AuthConfig {
	if cfg == nil || (len(cfg.Users) == 0 && len(cfg.APIKeys) == 0) {
		return nil
	}
	a := &AuthConfig{Users: cfg.Users, APIKeys: make(map[string]bool, len(cfg.APIKeys))}
	for _, k := range cfg.APIKeys {
		a.APIKeys[k] = true
	}
	return a
}

// publicPaths bypass authentication so probes and scrapers need no secret.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware accepts Basic auth, a Bearer token or an X-API-Key header.
func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || authorized(r, cfg) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="slaacd API"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
	})
}

func authorized(r *http.Request, cfg AuthConfig) bool {
	if key := r.Header.Get("X-API-Key"); key != "" && validKey(cfg, key) {
		return true
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return validKey(cfg, token)
	}
	if payload, ok := strings.CutPrefix(auth, "Basic "); ok {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return false
		}
		user, pass, ok := strings.Cut(string(raw), ":")
		if !ok {
			return false
		}
		expected, exists := cfg.Users[user]
		return exists && subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1
	}
	return false
}

func validKey(cfg AuthConfig, key string) bool {
	for k := range cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}
