package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type RateLimitConfig struct {
	IPPerMinute     int
	IPBurst         int
	ClinicPerMinute int
	ClinicBurst     int
}

// RateLimiter throttles by caller IP and, separately, by clinic so one busy
// clinic cannot starve the rest.
type RateLimiter struct {
	ipLimiter     *tokenLimiter
	clinicLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:     newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		clinicLimiter: newTokenLimiter(cfg.ClinicPerMinute, cfg.ClinicBurst),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip) {
			writeError(w, "", http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		clinicID, requestID := extractClinicAndRequestID(r)
		if clinicID != "" && !l.clinicLimiter.allow(clinicID) {
			writeError(w, requestID, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// staleAfter is how long a key stays in the bucket map without traffic
// before the next refill sweep evicts it.
const staleAfter = 10 * time.Minute

type tokenLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		rate:      float64(perMinute) / 60.0,
		burst:     float64(burst),
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = minFloat(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

func (l *tokenLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < staleAfter {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.last) >= staleAfter {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func extractClinicAndRequestID(r *http.Request) (string, string) {
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		if rest, ok := strings.CutPrefix(r.URL.Path, "/api/queues/"); ok {
			clinicID = strings.SplitN(strings.Trim(rest, "/"), "/", 2)[0]
		}
	}
	if clinicID != "" || r.Body == nil {
		return clinicID, requestID
	}
	contentType := r.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return clinicID, requestID
	}

	body, err := readBody(r)
	if err != nil {
		return clinicID, requestID
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return clinicID, requestID
	}
	if value, ok := payload["clinic_id"].(string); ok {
		clinicID = strings.TrimSpace(value)
	}
	if requestID == "" {
		if value, ok := payload["request_id"].(string); ok {
			requestID = strings.TrimSpace(value)
		}
	}
	return clinicID, requestID
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
