package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// Fingerprint derives the cache key of a request. The pipeline version and
// locale are part of the key, so an upgrade or another language never reuses
// old entries. Exactly one of image or canonicalURL is used, image first.
func Fingerprint(version, locale string, image []byte, canonicalURL string) string {
	h := sha256.New()
	fmt.Fprintf(h, "v=%s\x00locale=%s\x00", version, strings.ToLower(locale))
	if len(image) > 0 {
		sum := sha256.Sum256(image)
		fmt.Fprintf(h, "image=%s", hex.EncodeToString(sum[:]))
	} else {
		fmt.Fprintf(h, "url=%s", canonicalURL)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalURL normalizes an image URL so trivially different spellings
// share a fingerprint: scheme and host are lowercased, default ports and
// fragments dropped, and query parameters sorted.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid image URL: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("image URL has no host")
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""

	query := u.Query()
	for _, vals := range query {
		sort.Strings(vals)
	}
	// Encode sorts by key.
	u.RawQuery = query.Encode()

	return u.String(), nil
}
