// Package service composes the stores, the anti-fraud gate and the
// postback dispatcher into the tracker's business operations.
package service

import (
	"errors"

	"github.com/oklog/ulid/v2"
)

// Service errors.
var (
	ErrMissingOfferID           = errors.New("offer_id is required")
	ErrMissingTgID              = errors.New("tg_id is required")
	ErrMissingToken             = errors.New("start token is required")
	ErrTokenGenerationExhausted = errors.New("start token generation exhausted")
	ErrOfferNotFound            = errors.New("offer not found")
	ErrOfferInactive            = errors.New("offer is inactive")
	ErrClickNotFound            = errors.New("click not found")
)

// generateULID returns a new lexicographically sortable id.
func generateULID() string {
	return ulid.Make().String()
}
