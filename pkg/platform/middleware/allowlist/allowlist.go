// Package allowlist restricts an endpoint to configured client addresses.
package allowlist

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/httputil"
	"relay/pkg/platform/middleware/metadata"
	"relay/pkg/requestcontext"
)

// Allowlist holds parsed addresses and CIDR ranges. An empty allowlist admits
// every client.
type Allowlist struct {
	prefixes []netip.Prefix
}

// Parse accepts entries such as "10.0.0.7" or "10.0.0.0/8".
func Parse(entries []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("parse allowlist entry %q: %w", entry, err)
			}
			a.prefixes = append(a.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse allowlist entry %q: %w", entry, err)
		}
		a.prefixes = append(a.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return a, nil
}

// Allows reports whether ip is admitted.
func (a *Allowlist) Allows(ip string) bool {
	if a == nil || len(a.prefixes) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Middleware answers 403 to clients outside the allowlist.
func (a *Allowlist) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := requestcontext.ClientIP(r.Context())
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}
			if !a.Allows(ip) {
				logger.WarnContext(r.Context(), "client address not allowed",
					"client_ip", ip,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "client address not allowed"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
