package postback

import (
	"net/url"
	"strings"
	"testing"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		body   []byte
	}{
		{"basic", "dev_secret", []byte(`{"event_type":"join_group","offer_id":"o1"}`)},
		{"empty body", "secret", []byte(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Sign(tt.secret, tt.body)

			if len(sig) != 64 {
				t.Errorf("signature length = %d, want 64", len(sig))
			}
			if sig != Sign(tt.secret, tt.body) {
				t.Error("signature is not deterministic")
			}
			if sig == Sign(tt.secret+"x", tt.body) {
				t.Error("different secret should produce different signature")
			}
			if sig == Sign(tt.secret, append([]byte(" "), tt.body...)) {
				t.Error("different body should produce different signature")
			}
		})
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"test":"data"}`)
	valid := Sign("s", body)

	tests := []struct {
		name      string
		signature string
		wantErr   error
	}{
		{"valid", valid, nil},
		{"invalid", "deadbeef", ErrInvalidSignature},
		{"empty", "", ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Verify("s", tt.signature, body); err != tt.wantErr {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayloadCanonical(t *testing.T) {
	payout := int64(150)
	p := Payload{
		EventType:   "join_group",
		OfferID:     "o1",
		EventID:     "e1",
		TgID:        42,
		UID:         "u1",
		TS:          1700000000,
		PayoutCents: &payout,
		Payload:     map[string]any{"z": 1, "a": "x"},
	}

	got, err := p.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	want := `{"event_type":"join_group","offer_id":"o1","event_id":"e1","tg_id":42,"uid":"u1","ts":1700000000,"payout_cents":150,"payload":{"a":"x","z":1}}`
	if string(got) != want {
		t.Errorf("Canonical() = %s, want %s", got, want)
	}
}

func TestPayloadCanonical_OmitsEmpty(t *testing.T) {
	got, err := Payload{EventType: "start", OfferID: "o1", TgID: 1, TS: 5}.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	for _, field := range []string{"uid", "click_id", "payout_cents", "payload", "event_id"} {
		if strings.Contains(string(got), `"`+field+`"`) {
			t.Errorf("Canonical() = %s, should omit %s", got, field)
		}
	}
}

func TestVerifyQuery(t *testing.T) {
	q, err := Payload{
		EventType: "join_group",
		OfferID:   "o1",
		TgID:      42,
		ClickID:   "c1",
		TS:        1700000000,
		Payload:   map[string]any{"chat_id": "-100"},
	}.Query()
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	q.Set(QuerySignature, Sign("s", []byte(q.Encode())))

	target, err := appendQuery("https://adv.example/pb?aff=7", q)
	if err != nil {
		t.Fatalf("appendQuery() error = %v", err)
	}
	parsed, _ := url.Parse(target)
	received := parsed.Query()

	if received.Get("aff") != "7" {
		t.Errorf("aff = %q, want existing query param preserved", received.Get("aff"))
	}
	if err := VerifyQuery("s", received); err != nil {
		t.Errorf("VerifyQuery() error = %v", err)
	}

	received.Set("tg_id", "43")
	if err := VerifyQuery("s", received); err != ErrInvalidSignature {
		t.Errorf("VerifyQuery() tampered error = %v, want %v", err, ErrInvalidSignature)
	}
}
