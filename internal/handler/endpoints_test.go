package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tgcpa/tgcpa/internal/antifraud"
	"github.com/tgcpa/tgcpa/internal/handler/dto"
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/postback"
	"github.com/tgcpa/tgcpa/internal/repository"
	"github.com/tgcpa/tgcpa/internal/service"
)

type fakeClicks struct {
	offers    map[string]string
	issueErr  error
	gotParams model.ClickParams
}

func (f *fakeClicks) ResolveOffer(ctx context.Context, slug string) (string, error) {
	id, ok := f.offers[slug]
	if !ok {
		return "", service.ErrOfferNotFound
	}
	return id, nil
}

func (f *fakeClicks) IssueClick(ctx context.Context, offerID string, params model.ClickParams) (*service.IssuedClick, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.gotParams = params
	return &service.IssuedClick{ID: "click-1", StartToken: "tok_AbC-123"}, nil
}

func newClickRouter(clicks ClickIssuer) http.Handler {
	r := chi.NewRouter()
	r.Get("/go/{slug}", NewClickHandler(clicks, "@cpa_bot", discardLogger()).Redirect)
	return r
}

func TestClickHandler_Redirect(t *testing.T) {
	t.Parallel()

	clicks := &fakeClicks{offers: map[string]string{"join-vip": "offer-1"}}
	router := newClickRouter(clicks)

	req := httptest.NewRequest(http.MethodGet, "/go/join-vip?uid=u7&click_id=ext-9&utm_source=fb&sub1=a", nil)
	req.RemoteAddr = "198.51.100.4:1000"
	req.Header.Set("User-Agent", "TestBrowser/1.0")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if got, want := rec.Header().Get("Location"), "https://t.me/cpa_bot?start=tok_AbC-123"; got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}

	want := model.ClickParams{
		UID:             "u7",
		ExternalClickID: "ext-9",
		Source:          "fb",
		Sub1:            "a",
		IP:              "198.51.100.4",
		UserAgent:       "TestBrowser/1.0",
	}
	if clicks.gotParams != want {
		t.Errorf("params = %+v, want %+v", clicks.gotParams, want)
	}
}

func TestClickHandler_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		issueErr   error
		wantStatus int
		wantCode   string
	}{
		{"unknown offer", "/go/missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"token exhaustion", "/go/join-vip", service.ErrTokenGenerationExhausted, http.StatusServiceUnavailable, "TOKEN_GENERATION_EXHAUSTED"},
		{"store failure", "/go/join-vip", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clicks := &fakeClicks{offers: map[string]string{"join-vip": "offer-1"}, issueErr: tt.issueErr}
			rec := httptest.NewRecorder()
			newClickRouter(clicks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body := decodeError(t, rec); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

type claimFunc func(ctx context.Context, token string, tgID int64) (*service.ClaimResult, error)

func (f claimFunc) Claim(ctx context.Context, token string, tgID int64) (*service.ClaimResult, error) {
	return f(ctx, token, tgID)
}

func TestClaimHandler(t *testing.T) {
	t.Parallel()

	claimer := claimFunc(func(ctx context.Context, token string, tgID int64) (*service.ClaimResult, error) {
		switch {
		case token == "":
			return nil, service.ErrMissingToken
		case token == "gone":
			return nil, service.ErrClickNotFound
		case token == "boom":
			return nil, errors.New("db down")
		}
		return &service.ClaimResult{
			Click:       &model.Click{ID: "click-1", OfferID: "offer-1"},
			Attribution: &model.Attribution{TgID: tgID, OfferID: "offer-1", State: model.AttributionStarted},
		}, nil
	})

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"claimed", `{"token":"tok","tg_id":42}`, http.StatusOK},
		{"missing token", `{"tg_id":42}`, http.StatusBadRequest},
		{"unknown token", `{"token":"gone","tg_id":42}`, http.StatusNotFound},
		{"store failure", `{"token":"boom","tg_id":42}`, http.StatusInternalServerError},
		{"invalid json", `{"token":`, http.StatusBadRequest},
		{"unknown field", `{"token":"tok","tg_id":42,"extra":1}`, http.StatusBadRequest},
	}

	h := NewClaimHandler(claimer, discardLogger())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			h.Claim(rec, httptest.NewRequest(http.MethodPost, "/api/v1/claim", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body dto.ClaimResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !body.OK || body.OfferID != "offer-1" || body.ClickID != "click-1" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

type recordFunc func(ctx context.Context, in service.RecordInput) (*service.RecordResult, error)

func (f recordFunc) Record(ctx context.Context, in service.RecordInput) (*service.RecordResult, error) {
	return f(ctx, in)
}

type fakeAdminStore struct {
	offers  map[string]*model.Offer
	logs    []*model.PostbackLog
	limit   int
	retried string
}

func (f *fakeAdminStore) GetOfferBySlug(ctx context.Context, slug string) (*model.Offer, error) {
	o, ok := f.offers[slug]
	if !ok {
		return nil, repository.ErrOfferNotFound
	}
	return o, nil
}

func (f *fakeAdminStore) ListRecent(ctx context.Context, offerID string, limit int) ([]*model.PostbackLog, error) {
	f.limit = limit
	return f.logs, nil
}

func (f *fakeAdminStore) RetryFailedForSlug(ctx context.Context, slug string, limit int) (*postback.RetryReport, error) {
	o, err := f.GetOfferBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	f.retried = slug
	f.limit = limit
	return &postback.RetryReport{OK: true, Offer: o, Retries: []postback.RetryOutcome{}}, nil
}

func newAdminRouter(recorder EventRecorder, store *fakeAdminStore) http.Handler {
	h := NewAdminHandler(recorder, store, store, store, discardLogger())
	r := chi.NewRouter()
	r.Post("/api/v1/admin/events", h.RecordEvent)
	r.Post("/api/v1/admin/offers/{slug}/postbacks/retry", h.RetryPostbacks)
	r.Get("/api/v1/admin/offers/{slug}/postbacks", h.ListPostbacks)
	return r
}

func TestAdminHandler_RecordEvent(t *testing.T) {
	t.Parallel()

	recorder := recordFunc(func(ctx context.Context, in service.RecordInput) (*service.RecordResult, error) {
		if _, err := model.ParseEventType(in.EventType); err != nil {
			return nil, err
		}
		switch in.TgID {
		case 0:
			return nil, service.ErrMissingTgID
		case 1:
			return &service.RecordResult{EventID: "ev-1", Created: true}, nil
		case 2:
			return &service.RecordResult{EventID: "ev-1", Created: false}, nil
		case 3:
			return &service.RecordResult{Blocked: &service.Blocked{Reason: antifraud.ReasonSuspectIP}}, nil
		case 4:
			res := &service.RecordResult{EventID: "ev-2", Created: true}
			return res, &service.PostbackError{EventID: "ev-2", EventCreated: true, Err: postback.ErrNon2xx}
		}
		return nil, errors.New("db down")
	})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"created", `{"offer_id":"o","tg_id":1,"event_type":"join_group"}`, http.StatusCreated, ""},
		{"duplicate", `{"offer_id":"o","tg_id":2,"event_type":"join_group"}`, http.StatusOK, ""},
		{"blocked", `{"offer_id":"o","tg_id":3,"event_type":"join_group"}`, http.StatusOK, ""},
		{"postback failed", `{"offer_id":"o","tg_id":4,"event_type":"join_group"}`, http.StatusBadGateway, ""},
		{"unsupported type", `{"offer_id":"o","tg_id":1,"event_type":"purchase"}`, http.StatusBadRequest, "UNSUPPORTED_EVENT_TYPE"},
		{"missing tg id", `{"offer_id":"o","event_type":"join_group"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"internal", `{"offer_id":"o","tg_id":9,"event_type":"join_group"}`, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	router := newAdminRouter(recorder, &fakeAdminStore{})
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/events", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if body := decodeError(t, rec); body.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestAdminHandler_RecordEventPostbackFailureBody(t *testing.T) {
	t.Parallel()

	recorder := recordFunc(func(ctx context.Context, in service.RecordInput) (*service.RecordResult, error) {
		res := &service.RecordResult{EventID: "ev-2", Created: true}
		return res, &service.PostbackError{EventID: "ev-2", EventCreated: true, Err: postback.ErrNon2xx}
	})

	rec := httptest.NewRecorder()
	newAdminRouter(recorder, &fakeAdminStore{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/v1/admin/events", strings.NewReader(`{"offer_id":"o","tg_id":4,"event_type":"join_group"}`)))

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["event_id"] != "ev-2" {
		t.Errorf("event_id = %v, want ev-2", body["event_id"])
	}
	if body["event_created"] != true {
		t.Errorf("event_created = %v, want true", body["event_created"])
	}
	if body["ok"] != false {
		t.Errorf("ok = %v, want false", body["ok"])
	}
}

func TestAdminHandler_RetryPostbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantLimit  int
	}{
		{"default limit", "/api/v1/admin/offers/join-vip/postbacks/retry", http.StatusOK, postback.DefaultSweepLimit},
		{"explicit limit", "/api/v1/admin/offers/join-vip/postbacks/retry?limit=12", http.StatusOK, 12},
		{"unknown offer", "/api/v1/admin/offers/nope/postbacks/retry", http.StatusNotFound, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &fakeAdminStore{offers: map[string]*model.Offer{"join-vip": {ID: "offer-1", Slug: "join-vip"}}}
			rec := httptest.NewRecorder()
			newAdminRouter(nil, store).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if store.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", store.limit, tt.wantLimit)
			}
		})
	}
}

func TestAdminHandler_ListPostbacks(t *testing.T) {
	t.Parallel()

	store := &fakeAdminStore{
		offers: map[string]*model.Offer{"join-vip": {ID: "offer-1", Slug: "join-vip"}},
		logs:   []*model.PostbackLog{{ID: "pb-1", OfferID: "offer-1", Attempt: 1, Status: model.PostbackFailed}},
	}

	rec := httptest.NewRecorder()
	newAdminRouter(nil, store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/offers/join-vip/postbacks?limit=1000", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if store.limit != maxPostbackListLimit {
		t.Errorf("limit = %d, want %d", store.limit, maxPostbackListLimit)
	}

	var body dto.PostbackListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != "pb-1" {
		t.Errorf("data = %+v", body.Data)
	}
}
