// Package urlnorm canonicalizes tracking-stripped URLs for dedupe, per
// spec §4.2.
package urlnorm

import (
	"net/url"
	"strings"
)

var strippedPrefixes = []string{"utm_", "fbclid", "gclid", "msclkid", "ref", "ref_", "source"}

func isStrippedParam(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range strippedPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Normalize strips the fragment, removes tracking query parameters,
// sorts the remaining parameters lexicographically by name (preserving
// value order within a name), and strips one trailing slash from paths
// longer than "/". The result is used as the dedupe key for TrackedItem.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Fragment = ""

	query := u.Query()
	for name := range query {
		if isStrippedParam(name) {
			query.Del(name)
		}
	}
	// url.Values.Encode sorts by key and preserves per-key value order,
	// satisfying the "sort lexicographically by name" requirement.
	u.RawQuery = query.Encode()

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Host returns the normalized URL's host, lower-cased, for use as
// TrackedItem.SiteHost.
func Host(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}
