// Package urlcanon turns raw product links into canonical product URLs.
package urlcanon

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var asinPattern = regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`)

// trackingParams are dropped from URLs of sites without a dedicated rule.
var trackingParams = map[string]bool{
	"ref":    true,
	"tag":    true,
	"gclid":  true,
	"fbclid": true,
	"psc":    true,
}

// Canonicalize returns the canonical form of rawURL. It is idempotent:
// Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch {
	case strings.HasPrefix(host, "amazon."):
		if asin := amazonASIN(u); asin != "" {
			return "https://www." + host + "/dp/" + asin, nil
		}
	case host == "flipkart.com" || strings.HasSuffix(host, ".flipkart.com"):
		pid := u.Query().Get("pid")
		u.RawQuery = ""
		if pid != "" {
			u.RawQuery = url.Values{"pid": {pid}}.Encode()
		}
		return u.String(), nil
	}

	q := u.Query()
	for key := range q {
		if trackingParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// amazonASIN extracts the product ASIN, looking inside sponsored redirect
// links first.
func amazonASIN(u *url.URL) string {
	if inner := u.Query().Get("url"); inner != "" {
		if m := asinPattern.FindStringSubmatch(inner); m != nil {
			return m[1]
		}
	}
	if m := asinPattern.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

// SiteID derives the selector-table key for a product URL: the host without
// "www." up to its first dot ("www.amazon.in" -> "amazon").
func SiteID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}
