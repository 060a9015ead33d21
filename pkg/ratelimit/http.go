package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Header names written on every rate-limited response.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers renders d as response headers. Reset is in unix seconds.
func Headers(d Decision) http.Header {
	h := make(http.Header)
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		h.Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfter))
	}
	return h
}

// ClientIP identifies the caller from CDN and proxy headers, in order
// CF-Connecting-IP, first X-Forwarded-For entry, X-Real-IP. Falls back to "unknown".
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return "unknown"
}

// DeniedBody is the JSON body of a 429 response.
type DeniedBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// WriteDenied writes a 429 with rate-limit headers.
func WriteDenied(w http.ResponseWriter, d Decision) {
	for k, vs := range Headers(d) {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(DeniedBody{Error: "Too many requests", RetryAfter: d.RetryAfter})
}

// Middleware limits next under endpoint, keyed by ClientIP.
func Middleware(l *Limiter, endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Check(r.Context(), ClientIP(r), endpoint)
		if !d.Allowed {
			WriteDenied(w, d)
			return
		}
		for k, vs := range Headers(d) {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		next.ServeHTTP(w, r)
	})
}
