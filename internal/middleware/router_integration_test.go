package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// TestRouterIntegration_RegistrationLimiterOnlyOnPost は
// 登録用リミッターがchi.Router上でPOSTルートにのみ適用されることを検証する。
func TestRouterIntegration_RegistrationLimiterOnlyOnPost(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:       100,
		GeneralBurst:      100,
		RegistrationRate:  1,
		RegistrationBurst: 1,
		CleanupInterval:   time.Minute,
	})
	defer rl.Stop()

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(nil))
	r.Use(NewRequestIDMiddleware())
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Use(rl.GeneralMiddleware())

	r.Get("/api/domains", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.With(rl.RegistrationMiddleware()).Post("/api/domains", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	send := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/domains", nil)
		req.RemoteAddr = "198.51.100.7:1000"
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("first_post_allowed", func(t *testing.T) {
		if w := send(http.MethodPost); w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("second_post_limited", func(t *testing.T) {
		if w := send(http.MethodPost); w.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("get_unaffected", func(t *testing.T) {
		w := send(http.MethodGet)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Error("security headers should be set")
		}
		if w.Header().Get(RequestIDHeader) == "" {
			t.Error("request id header should be set")
		}
	})

	t.Run("preflight_returns_204", func(t *testing.T) {
		if w := send(http.MethodOptions); w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}
