// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/service"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ClaimRequest is the mini-app claim body.
type ClaimRequest struct {
	Token string `json:"token"`
	TgID  int64  `json:"tg_id"`
}

// ClaimResponse is returned by a successful claim.
type ClaimResponse struct {
	OK          bool               `json:"ok"`
	OfferID     string             `json:"offer_id"`
	ClickID     string             `json:"click_id"`
	Attribution *model.Attribution `json:"attribution,omitempty"`
}

// RecordEventResponse wraps the recorder result. Error is set when the
// event was stored but its postback failed.
type RecordEventResponse struct {
	OK bool `json:"ok"`
	*service.RecordResult
	Error        string `json:"error,omitempty"`
	EventCreated bool   `json:"event_created,omitempty"`
}

// PostbackListResponse lists recent delivery attempts of one offer.
type PostbackListResponse struct {
	Offer *model.Offer         `json:"offer"`
	Data  []*model.PostbackLog `json:"data"`
}
