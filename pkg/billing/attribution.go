package billing

import (
	"net"
	"net/http"
	"strings"
)

// Query parameters carried through checkout metadata for marketing
// attribution. The reconciler stores them opaquely on the subscription;
// nothing in this module interprets them.
var attributionParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "ttclid",
}

// AttributionFromRequest captures the marketing-attribution context of a
// checkout-initiation request: client IP, user agent and known click or
// campaign identifiers from the query string. The result plugs into a
// checkout request's attribution metadata.
func AttributionFromRequest(r *http.Request) map[string]string {
	attr := make(map[string]string)

	if ip := clientIP(r); ip != "" {
		attr["client_ip"] = ip
	}
	if ua := r.UserAgent(); ua != "" {
		attr["user_agent"] = ua
	}

	query := r.URL.Query()
	for _, param := range attributionParams {
		if v := query.Get(param); v != "" {
			attr[param] = v
		}
	}
	return attr
}

// clientIP prefers the first X-Forwarded-For hop, set by the edge proxy,
// over the direct peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
