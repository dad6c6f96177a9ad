package postback

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds one postback request end to end.
	DefaultTimeout = 4 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 3 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 3 * time.Second
)

// Header and query names for postback requests.
const (
	HeaderSignature = "X-Signature"
	HeaderEventID   = "X-Event-Id"
	QuerySignature  = "sig"
	userAgent       = "tgcpa-postback/1.0"
)

// NewHTTPClient creates an HTTP client for postback delivery. Per-request
// deadlines come from the caller's context; redirects are not followed.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: TLSHandshakeTimeout,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// setHeaders applies postback headers to an HTTP request.
func setHeaders(req *http.Request, signature, eventID string, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderSignature, signature)
	if eventID != "" {
		req.Header.Set(HeaderEventID, eventID)
	}
	req.Header.Set("User-Agent", userAgent)
}
