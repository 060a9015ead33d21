package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/logging"
)

// DefaultAllowedOrigins are the dashboard's production origins. encore.app
// lists the same set under global_cors.
var DefaultAllowedOrigins = []string{
	"https://www.dger.kr",
	"https://dger.kr",
	"https://dger-map.vercel.app",
}

// OriginPolicy is an allowlist of browser origins. A request without an
// Origin header is not cross-origin and always passes.
type OriginPolicy struct {
	allowed        map[string]struct{}
	allowLocalhost bool
}

// NewOriginPolicy builds a policy. allowLocalhost also admits any
// http://localhost origin, for development.
func NewOriginPolicy(origins []string, allowLocalhost bool) *OriginPolicy {
	p := &OriginPolicy{
		allowed:        make(map[string]struct{}, len(origins)),
		allowLocalhost: allowLocalhost,
	}
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

// Allowed reports whether origin may call a restricted endpoint.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[origin]; ok {
		return true
	}
	return p.allowLocalhost && strings.HasPrefix(origin, "http://localhost")
}

// RequireOrigin answers 403 to browser requests from origins outside p.
func RequireOrigin(p *OriginPolicy, logger *zap.Logger, next http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		origin := r.Header.Get("Origin")
		if !p.Allowed(origin) {
			logger.Warn("origin rejected",
				zap.String("origin", origin),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "허용되지 않은 Origin입니다."})
			return
		}
		next.ServeHTTP(w, r)
	})
}
