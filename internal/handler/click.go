package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tgcpa/tgcpa/internal/middleware"
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/service"
)

const (
	maxParamLen     = 256
	maxUserAgentLen = 512
)

// ClickIssuer resolves offers and issues clicks.
type ClickIssuer interface {
	ResolveOffer(ctx context.Context, slug string) (string, error)
	IssueClick(ctx context.Context, offerID string, params model.ClickParams) (*service.IssuedClick, error)
}

// ClickHandler serves tracking links.
type ClickHandler struct {
	clicks      ClickIssuer
	botUsername string
	logger      *slog.Logger
}

// NewClickHandler creates a ClickHandler redirecting to botUsername.
func NewClickHandler(clicks ClickIssuer, botUsername string, logger *slog.Logger) *ClickHandler {
	return &ClickHandler{
		clicks:      clicks,
		botUsername: strings.TrimPrefix(botUsername, "@"),
		logger:      logger.With("component", "handler.click"),
	}
}

// Redirect handles GET /go/{slug}: it stores a click and sends the
// visitor to the bot with the click's start token.
func (h *ClickHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Offer not found")
		return
	}

	start := time.Now()

	offerID, err := h.clicks.ResolveOffer(r.Context(), slug)
	if err != nil {
		h.handleError(w, slug, err)
		return
	}

	q := r.URL.Query()
	params := model.ClickParams{
		UID:             clip(q.Get("uid"), maxParamLen),
		ExternalClickID: clip(firstNonEmpty(q.Get("click_id"), q.Get("clickid")), maxParamLen),
		Source:          clip(firstNonEmpty(q.Get("source"), q.Get("utm_source")), maxParamLen),
		Sub1:            clip(q.Get("sub1"), maxParamLen),
		Sub2:            clip(q.Get("sub2"), maxParamLen),
		IP:              middleware.ClientIP(r),
		UserAgent:       clip(r.Header.Get("User-Agent"), maxUserAgentLen),
		Referer:         clip(r.Header.Get("Referer"), maxParamLen),
	}

	issued, err := h.clicks.IssueClick(r.Context(), offerID, params)
	if err != nil {
		h.handleError(w, slug, err)
		return
	}

	h.logger.Info("click issued",
		"slug", slug,
		"click_id", issued.ID,
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)

	w.Header().Set("Cache-Control", "private, max-age=0")
	http.Redirect(w, r, h.botLink(issued.StartToken), http.StatusFound)
}

func (h *ClickHandler) botLink(token string) string {
	return "https://t.me/" + url.PathEscape(h.botUsername) + "?start=" + url.QueryEscape(token)
}

func (h *ClickHandler) handleError(w http.ResponseWriter, slug string, err error) {
	switch {
	case errors.Is(err, service.ErrOfferNotFound), errors.Is(err, service.ErrOfferInactive):
		h.logger.Info("click for unknown offer", "slug", slug, "error", err)
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Offer not found")
	case errors.Is(err, service.ErrTokenGenerationExhausted):
		h.logger.Error("start token generation exhausted", "slug", slug)
		writeError(w, http.StatusServiceUnavailable, "TOKEN_GENERATION_EXHAUSTED", "Try again later")
	default:
		h.logger.Error("click issue failed", "slug", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
