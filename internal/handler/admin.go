package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tgcpa/tgcpa/internal/handler/dto"
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/postback"
	"github.com/tgcpa/tgcpa/internal/repository"
	"github.com/tgcpa/tgcpa/internal/service"
)

const (
	defaultPostbackListLimit = 20
	maxPostbackListLimit     = 100
)

// EventRecorder records events.
type EventRecorder interface {
	Record(ctx context.Context, in service.RecordInput) (*service.RecordResult, error)
}

// RetrySweeper resends failed postbacks of one offer.
type RetrySweeper interface {
	RetryFailedForSlug(ctx context.Context, slug string, limit int) (*postback.RetryReport, error)
}

// PostbackLister reads the postback log.
type PostbackLister interface {
	ListRecent(ctx context.Context, offerID string, limit int) ([]*model.PostbackLog, error)
}

// OfferLookup finds offers by slug.
type OfferLookup interface {
	GetOfferBySlug(ctx context.Context, slug string) (*model.Offer, error)
}

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	recorder EventRecorder
	sweeper  RetrySweeper
	logs     PostbackLister
	offers   OfferLookup
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(recorder EventRecorder, sweeper RetrySweeper, logs PostbackLister, offers OfferLookup, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		recorder: recorder,
		sweeper:  sweeper,
		logs:     logs,
		offers:   offers,
		logger:   logger.With("component", "handler.admin"),
	}
}

// RecordEvent handles POST /api/v1/admin/events.
func (h *AdminHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var in service.RecordInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	res, err := h.recorder.Record(r.Context(), in)

	var pbErr *service.PostbackError
	switch {
	case err == nil:
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, dto.RecordEventResponse{OK: true, RecordResult: res})
	case errors.As(err, &pbErr):
		h.logger.Warn("event stored but postback failed",
			"event_id", pbErr.EventID,
			"offer_id", in.OfferID,
			"error", pbErr.Err,
		)
		writeJSON(w, http.StatusBadGateway, dto.RecordEventResponse{
			RecordResult: res,
			Error:        pbErr.Error(),
			EventCreated: pbErr.EventCreated,
		})
	case errors.Is(err, model.ErrUnsupportedEventType):
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_EVENT_TYPE", err.Error())
	case errors.Is(err, service.ErrMissingOfferID), errors.Is(err, service.ErrMissingTgID):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		h.logger.Error("record event failed", "offer_id", in.OfferID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// RetryPostbacks handles POST /api/v1/admin/offers/{slug}/postbacks/retry.
func (h *AdminHandler) RetryPostbacks(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	report, err := h.sweeper.RetryFailedForSlug(r.Context(), slug, queryLimit(r, postback.DefaultSweepLimit))
	if err != nil {
		h.handleOfferError(w, slug, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListPostbacks handles GET /api/v1/admin/offers/{slug}/postbacks.
func (h *AdminHandler) ListPostbacks(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	offer, err := h.offers.GetOfferBySlug(r.Context(), slug)
	if err != nil {
		h.handleOfferError(w, slug, err)
		return
	}

	limit := queryLimit(r, defaultPostbackListLimit)
	if limit > maxPostbackListLimit {
		limit = maxPostbackListLimit
	}

	logs, err := h.logs.ListRecent(r.Context(), offer.ID, limit)
	if err != nil {
		h.logger.Error("list postbacks failed", "offer_id", offer.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}
	if logs == nil {
		logs = []*model.PostbackLog{}
	}
	writeJSON(w, http.StatusOK, dto.PostbackListResponse{Offer: offer, Data: logs})
}

func (h *AdminHandler) handleOfferError(w http.ResponseWriter, slug string, err error) {
	if errors.Is(err, repository.ErrOfferNotFound) || errors.Is(err, service.ErrOfferNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Offer not found")
		return
	}
	h.logger.Error("admin offer request failed", "slug", slug, "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}
