package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/verum/verum-indexer/internal/protocol"
)

func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := strings.TrimSpace(r.Header.Get("Authorization"))
			parts := strings.SplitN(hdr, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "UNAUTHORIZED",
					Message:   "missing bearer token",
					Retryable: false,
				}})
				return
			}
			given := strings.TrimSpace(parts[1])
			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "UNAUTHORIZED",
					Message:   "invalid bearer token",
					Retryable: false,
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func IPAllowListMiddleware(cidrs []string) (func(http.Handler) http.Handler, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, netw, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, netw)
	}
	if len(nets) == 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil {
				writeJSON(w, http.StatusForbidden, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "FORBIDDEN",
					Message:   "source ip not allowed",
					Retryable: false,
				}})
				return
			}
			allowed := false
			for _, n := range nets {
				if n.Contains(ip) {
					allowed = true
					break
				}
			}
			if !allowed {
				writeJSON(w, http.StatusForbidden, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "FORBIDDEN",
					Message:   "source ip not allowed",
					Retryable: false,
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
