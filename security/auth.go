package security

import (
	"net"
	"strings"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
)

// Mode names a configured authentication mode.
type Mode string

const (
	ModeLocalTrusted Mode = "local_trusted"
	ModeToken        Mode = "token"
	ModeMTLS         Mode = "mtls"
)

// Request carries the inbound fields an Authenticator needs: the raw
// headers relevant to every mode plus the directly observed socket peer,
// already split from any proxy-forwarded value.
type Request struct {
	RemoteIP        string
	AuthorizationHdr string
	ClientCertPresentHdr string
	ClientSANHdr    string
	ClientSubjectHdr string
	ForwardedForHdr string
	RealIPHdr       string
}

// Identity is the authenticated caller, used by rate limiting and the
// firewall alongside downstream authorization.
type Identity struct {
	Principal string
	IP        string
}

// Authenticator evaluates one configured auth mode plus the forwarded-
// header trust rule shared by all modes.
type Authenticator struct {
	Mode            Mode
	BindMode        string
	TokenValidator  *TokenValidator
	AllowedSAN      string
	TrustedProxy    bool
	TrustedProxyIPs map[string]struct{}
}

// NewAuthenticator builds an Authenticator. trustedProxyIPs may be nil.
func NewAuthenticator(mode Mode, bindMode string, tokenValidator *TokenValidator, allowedSAN string, trustedProxy bool, trustedProxyIPs []string) *Authenticator {
	set := make(map[string]struct{}, len(trustedProxyIPs))
	for _, ip := range trustedProxyIPs {
		set[ip] = struct{}{}
	}
	return &Authenticator{
		Mode:            mode,
		BindMode:        bindMode,
		TokenValidator:  tokenValidator,
		AllowedSAN:      allowedSAN,
		TrustedProxy:    trustedProxy,
		TrustedProxyIPs: set,
	}
}

// Authenticate validates req against the configured mode and returns the
// resolved caller identity, or an *sdkerr.Error describing why the
// request is rejected.
func (a *Authenticator) Authenticate(req Request) (Identity, error) {
	effectiveIP := a.resolveIP(req)

	switch a.Mode {
	case ModeLocalTrusted:
		if a.BindMode != "local_only" || !isLoopback(effectiveIP) {
			return Identity{}, sdkerr.New(sdkerr.SecurityRemoteBindDisallowed, "local_trusted mode requires a loopback peer", nil)
		}
		return Identity{Principal: "local", IP: effectiveIP}, nil

	case ModeToken:
		if a.TokenValidator == nil {
			return Identity{}, sdkerr.New(sdkerr.SecurityAuthRequired, "token auth is not configured", nil)
		}
		raw := strings.TrimPrefix(req.AuthorizationHdr, "Bearer ")
		if raw == "" || raw == req.AuthorizationHdr {
			return Identity{}, sdkerr.New(sdkerr.SecurityAuthRequired, "missing bearer token", nil)
		}
		claims, err := a.TokenValidator.Validate(raw)
		if err != nil {
			if err == ErrTokenReplayed {
				return Identity{}, sdkerr.New(sdkerr.SecurityTokenReplayed, err.Error(), nil)
			}
			return Identity{}, sdkerr.New(sdkerr.SecurityTokenInvalid, err.Error(), nil)
		}
		return Identity{Principal: claims.Subject, IP: effectiveIP}, nil

	case ModeMTLS:
		if req.ClientCertPresentHdr != "1" {
			return Identity{}, sdkerr.New(sdkerr.SecurityAuthRequired, "client certificate not presented", nil)
		}
		if a.AllowedSAN != "" && req.ClientSANHdr != a.AllowedSAN {
			return Identity{}, sdkerr.New(sdkerr.SecurityAuthzDenied, "client SAN not permitted", nil)
		}
		principal := req.ClientSubjectHdr
		if principal == "" {
			principal = "mtls-client"
		}
		return Identity{Principal: principal, IP: effectiveIP}, nil
	}

	return Identity{}, sdkerr.New(sdkerr.SecurityAuthRequired, "no auth mode configured", nil)
}

// resolveIP applies the forwarded-header trust rule: only reads
// X-Forwarded-For/X-Real-IP when trusted_proxy is enabled and the directly
// observed socket peer is itself in trusted_proxy_ips.
func (a *Authenticator) resolveIP(req Request) string {
	if !a.TrustedProxy {
		return req.RemoteIP
	}
	if _, ok := a.TrustedProxyIPs[req.RemoteIP]; !ok {
		return req.RemoteIP
	}
	if req.ForwardedForHdr != "" {
		first := strings.TrimSpace(strings.Split(req.ForwardedForHdr, ",")[0])
		if first != "" {
			return first
		}
	}
	if req.RealIPHdr != "" {
		return req.RealIPHdr
	}
	return req.RemoteIP
}

func isLoopback(ip string) bool {
	host := ip
	if h, _, err := net.SplitHostPort(ip); err == nil {
		host = h
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}
