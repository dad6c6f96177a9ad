// Package postback builds, signs, delivers and retries conversion
// notifications to offer endpoints.
package postback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

var (
	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Payload is the canonical postback body. Field order is fixed by the
// struct and payload map keys are sorted by encoding/json, so the
// serialization is deterministic.
type Payload struct {
	EventType   string         `json:"event_type"`
	OfferID     string         `json:"offer_id"`
	EventID     string         `json:"event_id,omitempty"`
	TgID        int64          `json:"tg_id"`
	UID         string         `json:"uid,omitempty"`
	ClickID     string         `json:"click_id,omitempty"`
	TS          int64          `json:"ts"`
	PayoutCents *int64         `json:"payout_cents,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Canonical returns the serialized JSON body that is signed and sent.
func (p Payload) Canonical() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal postback payload: %w", err)
	}
	return b, nil
}

// Query returns the GET form of the payload without the signature.
// Nested payload is carried as a JSON string.
func (p Payload) Query() (url.Values, error) {
	v := url.Values{}
	v.Set("event_type", p.EventType)
	v.Set("offer_id", p.OfferID)
	if p.EventID != "" {
		v.Set("event_id", p.EventID)
	}
	v.Set("tg_id", strconv.FormatInt(p.TgID, 10))
	if p.UID != "" {
		v.Set("uid", p.UID)
	}
	if p.ClickID != "" {
		v.Set("click_id", p.ClickID)
	}
	v.Set("ts", strconv.FormatInt(p.TS, 10))
	if p.PayoutCents != nil {
		v.Set("payout_cents", strconv.FormatInt(*p.PayoutCents, 10))
	}
	if len(p.Payload) > 0 {
		b, err := json.Marshal(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal postback payload: %w", err)
		}
		v.Set("payload", string(b))
	}
	return v, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time.
func Verify(secret, signature string, body []byte) error {
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// signedQueryKeys are the parameters covered by a GET signature. Any
// other parameters already present on the offer URL are not signed.
var signedQueryKeys = []string{
	"event_type", "offer_id", "event_id", "tg_id", "uid",
	"click_id", "ts", "payout_cents", "payload",
}

// VerifyQuery checks the sig parameter of a GET postback. The signed
// string is the sorted, encoded postback parameters.
func VerifyQuery(secret string, query url.Values) error {
	signed := url.Values{}
	for _, k := range signedQueryKeys {
		if vs, ok := query[k]; ok {
			signed[k] = vs
		}
	}
	return Verify(secret, query.Get(QuerySignature), []byte(signed.Encode()))
}
