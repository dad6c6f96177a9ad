// Postback Receiver Example
//
// A minimal advertiser endpoint that verifies tracker postbacks.
//
// Usage:
//   export POSTBACK_SECRET="dev_secret"
//   go run main.go
//
// Then set the offer's postback_url to http://your-server:9000/postback
// (add -allow-local to the bootstrap script when testing on localhost).

package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
)

// Conversion is the POST postback body.
type Conversion struct {
	EventType   string         `json:"event_type"`
	OfferID     string         `json:"offer_id"`
	EventID     string         `json:"event_id"`
	TgID        int64          `json:"tg_id"`
	UID         string         `json:"uid"`
	ClickID     string         `json:"click_id"`
	TS          int64          `json:"ts"`
	PayoutCents *int64         `json:"payout_cents"`
	Payload     map[string]any `json:"payload"`
}

// signedQueryKeys are the GET parameters covered by the sig parameter.
var signedQueryKeys = []string{
	"event_type", "offer_id", "event_id", "tg_id", "uid",
	"click_id", "ts", "payout_cents", "payload",
}

func main() {
	secret := os.Getenv("POSTBACK_SECRET")
	if secret == "" {
		log.Fatal("POSTBACK_SECRET environment variable is required")
	}

	http.HandleFunc("/postback", postbackHandler(secret))
	http.HandleFunc("/health", healthHandler)

	log.Println("Starting postback receiver on :9000")
	log.Fatal(http.ListenAndServe(":9000", nil))
}

func postbackHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "Bad request", http.StatusBadRequest)
				return
			}
			if !verify(secret, r.Header.Get("X-Signature"), body) {
				log.Println("Invalid signature")
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}

			var c Conversion
			if err := json.Unmarshal(body, &c); err != nil {
				http.Error(w, "Invalid JSON", http.StatusBadRequest)
				return
			}
			log.Printf("conversion offer=%s event=%s type=%s tg_id=%d click_id=%s",
				c.OfferID, c.EventID, c.EventType, c.TgID, c.ClickID)

		case http.MethodGet:
			q := r.URL.Query()
			signed := url.Values{}
			for _, k := range signedQueryKeys {
				if vs, ok := q[k]; ok {
					signed[k] = vs
				}
			}
			if !verify(secret, q.Get("sig"), []byte(signed.Encode())) {
				log.Println("Invalid signature")
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}
			log.Printf("conversion offer=%s event=%s type=%s tg_id=%s",
				q.Get("offer_id"), q.Get("event_id"), q.Get("event_type"), q.Get("tg_id"))

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	}
}

// verify recomputes the HMAC-SHA256 hex digest and compares in constant time.
func verify(secret, signature string, signed []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signed)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
