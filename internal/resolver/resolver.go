// Package resolver locates a target website within ordered search results.
package resolver

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// NormalizeHost reduces a URL to its lower-cased hostname without a leading
// "www.". Inputs without a scheme are treated as bare hosts. Unparseable input
// is returned lower-cased as-is.
func NormalizeHost(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	host := s
	if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	} else {
		host = strings.TrimSpace(raw)
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.TrimPrefix(host, "www.")
}

// Matches reports whether resultHost belongs to targetHost: the same host or
// any subdomain of it. Both arguments must already be normalized.
func Matches(resultHost, targetHost string) bool {
	if targetHost == "" || resultHost == "" {
		return false
	}
	return resultHost == targetHost || strings.HasSuffix(resultHost, "."+targetHost)
}

// Resolve returns the first result whose link belongs to targetURL. Results are
// scanned in the given order. The boolean is false when nothing matches, which
// is the common case and not an error.
func Resolve(results []tracker.SearchResult, targetURL string) (tracker.Match, bool) {
	target := NormalizeHost(targetURL)
	for _, r := range results {
		if Matches(NormalizeHost(r.Link), target) {
			return tracker.Match{Position: r.Position, URL: r.Link, Title: r.Title}, true
		}
	}
	return tracker.Match{}, false
}
