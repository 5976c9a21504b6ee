package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// CanonicalURL normalizes an article URL so trivially different spellings of
// the same link share a dedup key: scheme and host are lowercased, default
// ports, fragments, utm_* parameters and a trailing slash are dropped, and the
// remaining query parameters are sorted. Unparseable input is only trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = u.Hostname()
	}
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	} else if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// DedupKey identifies an article within a feed.
func DedupKey(feedID, canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return "rss://" + feedID + "/" + hex.EncodeToString(sum[:])[:32]
}
