package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// unknownClient is what a request with an unusable RemoteAddr resolves to.
// All such requests share one limiter key.
const unknownClient = "0.0.0.0"

// ClientIPOptions configures client IP extraction
type ClientIPOptions struct {
	// TrustedHops is how many reverse proxies sit in front of us.
	// 0 ignores X-Forwarded-For, 1 takes the rightmost entry (single ALB),
	// 2 takes the second from the right (CDN + ALB) and so on.
	TrustedHops int
}

// ClientIP resolves the caller's address once and stores it in the context,
// everything downstream (limiter key, logs, archive) reads it from there
func ClientIP(opts ClientIPOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// resolveClientIP only believes X-Forwarded-For when the socket peer is a
// private address and hops are configured. When it doesn't believe the
// forwarded headers it deletes them so nothing later can trust them by mistake.
func resolveClientIP(r *http.Request, trustedHops int) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return unknownClient
	}
	peer = peer.Unmap()

	if trustedHops <= 0 || (!peer.IsPrivate() && !peer.IsLoopback()) {
		stripForwarded(r)
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer.String()
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies, misconfigured or forged
		stripForwarded(r)
		return peer.String()
	}
	if a, err := netip.ParseAddr(strings.TrimSpace(parts[idx])); err == nil {
		return a.Unmap().String()
	}
	return peer.String()
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
