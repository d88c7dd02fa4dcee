package rpcserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
	"github.com/FreeTAKTeam/lxmf-go/security"
)

type identityCtxKey struct{}

// identityFromContext returns the caller identity attached by authMiddleware.
func identityFromContext(ctx context.Context) security.Identity {
	id, _ := ctx.Value(identityCtxKey{}).(security.Identity)
	return id
}

// requestLogger logs method, path, and latency for every request, matching
// the timing-wrapped request logger the rest of the pack reaches for.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.Infof("%s %s %s", r.Method, r.RequestURI, time.Since(start))
	})
}

// authMiddleware builds per-request Request fields from headers and the
// socket's remote address, authenticates, and attaches the resolved
// identity to the request context; on failure it writes the sdkerr
// response directly and does not call next.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			remoteIP = host
		}

		id, err := s.Auth.Authenticate(security.Request{
			RemoteIP:             remoteIP,
			AuthorizationHdr:     r.Header.Get("Authorization"),
			ClientCertPresentHdr: r.Header.Get("X-Client-Cert-Present"),
			ClientSANHdr:         r.Header.Get("X-Client-San"),
			ClientSubjectHdr:     r.Header.Get("X-Client-Subject"),
			ForwardedForHdr:      r.Header.Get("X-Forwarded-For"),
			RealIPHdr:            r.Header.Get("X-Real-IP"),
		})
		if err != nil {
			writeError(w, err)
			return
		}

		if s.Firewall != nil {
			if fwErr := s.Firewall.Check(id.IP, id.Principal); fwErr != nil {
				writeError(w, sdkerr.New(sdkerr.SecurityAuthzDenied, fwErr.Error(), nil))
				return
			}
		}

		ctx := context.WithValue(r.Context(), identityCtxKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware enforces the per-ip and per-principal budgets,
// publishing sdk_security_rate_limited to the event log on rejection.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFromContext(r.Context())
		if s.RateLimit != nil {
			if !s.RateLimit.AllowIP(id.IP) || !s.RateLimit.AllowPrincipal(id.Principal) {
				s.publishEvent("sdk_security_rate_limited", id.Principal)
				writeError(w, sdkerr.New(sdkerr.SecurityRateLimited, "rate limit exceeded", nil))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
