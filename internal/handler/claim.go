package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tgcpa/tgcpa/internal/handler/dto"
	"github.com/tgcpa/tgcpa/internal/service"
)

// Claimer redeems start tokens.
type Claimer interface {
	Claim(ctx context.Context, token string, tgID int64) (*service.ClaimResult, error)
}

// ClaimHandler serves the mini-app claim endpoint.
type ClaimHandler struct {
	claims Claimer
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(claims Claimer, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, logger: logger.With("component", "handler.claim")}
}

// Claim handles POST /api/v1/claim.
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req dto.ClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	res, err := h.claims.Claim(r.Context(), req.Token, req.TgID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingToken), errors.Is(err, service.ErrMissingTgID):
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, service.ErrClickNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown or expired token")
		default:
			h.logger.Error("claim failed", "tg_id", req.TgID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.ClaimResponse{
		OK:          true,
		OfferID:     res.Click.OfferID,
		ClickID:     res.Click.ID,
		Attribution: res.Attribution,
	})
}
