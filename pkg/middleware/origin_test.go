package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOriginPolicy_Allowed(t *testing.T) {
	p := NewOriginPolicy(append([]string{" https://ops.dger.kr/ "}, DefaultAllowedOrigins...), false)
	dev := NewOriginPolicy(DefaultAllowedOrigins, true)

	tests := []struct {
		name   string
		policy *OriginPolicy
		origin string
		want   bool
	}{
		{"no origin", p, "", true},
		{"listed", p, "https://dger.kr", true},
		{"listed after trim", p, "https://ops.dger.kr", true},
		{"unlisted", p, "https://evil.example", false},
		{"scheme matters", p, "http://dger.kr", false},
		{"localhost in production", p, "http://localhost:3000", false},
		{"localhost in development", dev, "http://localhost:3000", true},
		{"https localhost is not dev", dev, "https://localhost:3000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allowed(tt.origin))
		})
	}
}

func TestRequireOrigin(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	calls := 0
	h := RequireOrigin(NewOriginPolicy(DefaultAllowedOrigins, false), zap.New(core), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/severe-acceptance?hpid=A1&qn=1", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	assert.Contains(t, rec.Body.String(), "error")
	assert.Zero(t, calls)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "https://evil.example", logs.All()[0].ContextMap()["origin"])

	req = httptest.NewRequest(http.MethodGet, "/api/severe-acceptance?hpid=A1&qn=1", nil)
	req.Header.Set("Origin", "https://www.dger.kr")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/severe-acceptance?hpid=A1&qn=1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestEncoreAppCORSMatchesDefaults(t *testing.T) {
	raw, err := os.ReadFile("../../encore.app")
	require.NoError(t, err)

	var app struct {
		GlobalCORS struct {
			AllowOrigins []string `json:"allow_origins_without_credentials"`
		} `json:"global_cors"`
	}
	require.NoError(t, json.Unmarshal(raw, &app))
	assert.ElementsMatch(t, DefaultAllowedOrigins, app.GlobalCORS.AllowOrigins)
}
