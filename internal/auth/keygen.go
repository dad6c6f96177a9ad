package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Admin token format: adm_{32 hex}
const adminTokenSecretLen = 32

var (
	// ErrInvalidTokenFormat indicates the token format is invalid.
	ErrInvalidTokenFormat = errors.New("invalid admin token format")

	tokenFormatRegex = regexp.MustCompile(`^adm_[a-f0-9]{32}$`)
)

// GeneratedToken is a new admin token and the hash to configure.
type GeneratedToken struct {
	Plaintext string // show once
	Hash      string // ADMIN_TOKEN_HASH
}

// GenerateAdminToken creates a random admin token and its argon2id hash.
func GenerateAdminToken() (*GeneratedToken, error) {
	secret := make([]byte, adminTokenSecretLen/2)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	plaintext := "adm_" + hex.EncodeToString(secret)

	hash, err := HashToken(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}
	return &GeneratedToken{Plaintext: plaintext, Hash: hash}, nil
}

// ValidateTokenFormat checks the shape of an admin token before hashing.
func ValidateTokenFormat(token string) bool {
	return tokenFormatRegex.MatchString(token)
}
