package auth

import (
	"context"
	"sync"
)

type contextKey string

const adminContextKey contextKey = "admin_fingerprint"

// Verifier checks admin bearer tokens. Tokens that verified once are
// remembered by fingerprint so argon2 runs once per token per process.
type Verifier struct {
	hash     string
	verified sync.Map
}

// NewVerifier parses encodedHash up front so a malformed
// ADMIN_TOKEN_HASH fails at startup. An empty hash disables admin access.
func NewVerifier(encodedHash string) (*Verifier, error) {
	if encodedHash != "" {
		if _, err := parsePHC(encodedHash); err != nil {
			return nil, err
		}
	}
	return &Verifier{hash: encodedHash}, nil
}

// Enabled reports whether an admin token is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && v.hash != ""
}

// Verify reports whether token is the admin token.
func (v *Verifier) Verify(token string) bool {
	if !v.Enabled() || !ValidateTokenFormat(token) {
		return false
	}

	fp := QuickHash(token)
	if _, ok := v.verified.Load(fp); ok {
		return true
	}

	ok, err := VerifyToken(token, v.hash)
	if err != nil || !ok {
		return false
	}
	v.verified.Store(fp, struct{}{})
	return true
}

// ContextWithAdmin marks the request as authenticated with the token
// fingerprint fp.
func ContextWithAdmin(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, adminContextKey, fp)
}

// AdminFromContext returns the admin token fingerprint, or "".
func AdminFromContext(ctx context.Context) string {
	fp, _ := ctx.Value(adminContextKey).(string)
	return fp
}
