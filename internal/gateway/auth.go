package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/undoable/undoable/internal/errs"
)

// admit implements the admission policy from spec section 4.10: if no
// token is configured, accept only loopback peers (including an
// entirely-loopback X-Forwarded-For chain); otherwise require a
// constant-time-compared bearer token.
func (g *Gateway) admit(r *http.Request) *errs.Error {
	if g.token == "" {
		if !isLoopbackRequest(r) {
			return errs.Unauthorizedf("loopback-only mode: request did not originate from a loopback address")
		}
		return nil
	}

	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return errs.Unauthorizedf("missing bearer token")
	}
	given := strings.TrimPrefix(authz, prefix)
	if subtle.ConstantTimeCompare([]byte(given), []byte(g.token)) != 1 {
		return errs.Unauthorizedf("invalid bearer token")
	}
	return nil
}

func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isLoopbackAddr(host) {
		return false
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return true
	}
	for _, hop := range strings.Split(xff, ",") {
		if !isLoopbackAddr(strings.TrimSpace(hop)) {
			return false
		}
	}
	return true
}

func isLoopbackAddr(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
