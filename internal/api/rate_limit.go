package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/canvasflow/internal/compositor"
)

// costUnitEdge is the long edge of a canvas that costs one token. Render work
// grows with pixel count, so an 8192px canvas costs four.
const costUnitEdge = compositor.DefaultMaxEdge

func renderCost(maxEdge int) int {
	unit := costUnitEdge * costUnitEdge
	cost := (maxEdge*maxEdge + unit - 1) / unit
	return max(1, cost)
}

// allowRender charges the caller for a canvas of the given long edge. It writes
// the 429 itself and reports false when the bucket is empty. A limiter failure
// lets the request through.
func (s *Server) allowRender(w http.ResponseWriter, r *http.Request, maxEdge int) bool {
	if s.rateLimiter == nil {
		return true
	}

	subject := strings.TrimSpace(r.Header.Get(s.rateLimitSubjectHeader))
	if subject == "" {
		subject = clientIP(r)
	}
	subject = subject + ":canvas"
	cost := renderCost(maxEdge)

	decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Int("cost", cost).Msg("rate limiter check failed")
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues("/v1/canvas").Inc()
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// clientIP strips the port from RemoteAddr, which chi's RealIP has already
// replaced with the forwarded address when one is present.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "anonymous"
	}
	return addr
}
