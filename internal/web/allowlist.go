package web

import (
	"net/url"
	"strings"
)

// normalizeHost lower-cases the host of rawURL and strips a leading "www.".
func normalizeHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// domainAllowed reports whether host equals an allowlisted domain or is a
// subdomain of one. An empty allowlist allows every host.
func domainAllowed(host string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	if host == "" {
		return false
	}
	for _, d := range allowlist {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
