package postback

import (
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrInvalidScheme is returned when URL scheme is not http(s).
	ErrInvalidScheme = errors.New("only http and https allowed")
	// ErrInvalidURL is returned when URL parsing fails.
	ErrInvalidURL = errors.New("invalid URL format")
	// ErrEmptyHost is returned when URL has no host.
	ErrEmptyHost = errors.New("URL must have a host")
	// ErrLocalhostBlocked is returned when localhost is used.
	ErrLocalhostBlocked = errors.New("localhost not allowed")
)

// ValidateTargetURL checks an offer postback URL. Loopback targets are
// rejected unless allowLocal is set.
func ValidateTargetURL(targetURL string, allowLocal bool) error {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return ErrInvalidURL
	}

	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()
	if host == "" {
		return ErrEmptyHost
	}

	if !allowLocal && isLocalhostHostname(host) {
		return ErrLocalhostBlocked
	}

	return nil
}

// isLocalhostHostname checks if hostname is localhost variant.
func isLocalhostHostname(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") ||
		host == "127.0.0.1" ||
		host == "::1"
}

// ExtractHost extracts host from URL for safe logging.
// Never log full URLs as they may contain secrets in path/query.
func ExtractHost(targetURL string) string {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return "(invalid)"
	}
	return parsed.Host
}

// appendQuery merges values into the URL's existing query string.
func appendQuery(targetURL string, values url.Values) (string, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return "", ErrInvalidURL
	}
	q := parsed.Query()
	for k, vs := range values {
		q[k] = vs
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
