package postback

import (
	"errors"
	"fmt"
)

// Sentinel errors for postback operations.
var (
	ErrNon2xx           = errors.New("postback endpoint returned non-2xx status")
	ErrAttemptConflict  = errors.New("postback attempt already logged")
	ErrLogStoreRequired = errors.New("postback log store is required")
)

// DeliveryError describes a failed delivery. StatusCode is zero when no
// HTTP response was received.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("postback delivery failed: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("postback delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
