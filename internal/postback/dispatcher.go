package postback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/tgcpa/tgcpa/internal/idempotency"
	"github.com/tgcpa/tgcpa/internal/metrics"
	"github.com/tgcpa/tgcpa/internal/model"
)

// OfferStore resolves the postback configuration of an offer.
type OfferStore interface {
	GetOffer(ctx context.Context, id string) (*model.Offer, error)
}

// LogStore appends attempt rows.
type LogStore interface {
	InsertAttempt(ctx context.Context, l *model.PostbackLog) error
}

// Request describes one conversion to notify.
type Request struct {
	OfferID     string
	EventID     string
	EventType   model.EventType
	TgID        int64
	UID         string
	ClickID     string
	PayoutCents *int64
	Payload     map[string]any

	// Attempt pins the logged attempt number; zero allocates the next one.
	Attempt int
	// SkipGuard bypasses the idempotency guard. Used by retries.
	SkipGuard bool
}

// Result is the outcome of Send.
type Result struct {
	OK         bool                 `json:"ok"`
	Status     model.PostbackStatus `json:"status"`
	HTTPStatus int                  `json:"http_status,omitempty"`
	Signature  string               `json:"signature,omitempty"`
	Dedup      bool                 `json:"dedup"`
	DryRun     bool                 `json:"dry_run"`
	Attempt    int                  `json:"attempt"`
	LogID      string               `json:"log_id"`
	Error      string               `json:"error,omitempty"`
}

// Config holds dispatcher defaults.
type Config struct {
	// Secret is the default signing secret for offers without their own.
	Secret string
	// Timeout bounds a request when the offer sets none.
	Timeout time.Duration
	// DedupTTL is how long a sent key suppresses repeats.
	DedupTTL time.Duration
}

// Dispatcher signs and delivers postbacks and logs every outcome.
type Dispatcher struct {
	offers  OfferStore
	logs    LogStore
	guard   idempotency.Guard
	client  *http.Client
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. A nil guard disables in-process
// suppression.
func NewDispatcher(offers OfferStore, logs LogStore, guard idempotency.Guard, cfg Config, logger *slog.Logger, recorder metrics.Recorder) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = idempotency.DefaultTTL
	}
	if guard == nil {
		guard = idempotency.Tiered{}
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		offers:  offers,
		logs:    logs,
		guard:   guard,
		client:  NewHTTPClient(),
		cfg:     cfg,
		logger:  logger.With("component", "postback.dispatcher"),
		metrics: recorder,
		now:     time.Now,
	}
}

// SetHTTPClient overrides the delivery client.
func (d *Dispatcher) SetHTTPClient(client *http.Client) {
	if client != nil {
		d.client = client
	}
}

// SetClock overrides the time source used for the ts field.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Send delivers one postback. Every outcome is logged before returning.
// A failed delivery returns both the Result and a *DeliveryError; it is
// never retried inline.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Result, error) {
	if d.logs == nil {
		return nil, ErrLogStoreRequired
	}

	offer, err := d.offers.GetOffer(ctx, req.OfferID)
	if err != nil {
		return nil, fmt.Errorf("resolve offer: %w", err)
	}

	entry := &model.PostbackLog{
		ID:      ulid.Make().String(),
		OfferID: offer.ID,
		Method:  offer.Method(),
		Attempt: req.Attempt,
	}
	if req.EventID != "" {
		eventID := req.EventID
		entry.EventID = &eventID
	}

	key := idempotency.Key(offer.ID, req.TgID, req.EventType)
	if !req.SkipGuard && d.guard.IsDupe(ctx, key) {
		entry.Status = model.PostbackDedup
		entry.URL = offer.PostbackURL
		if err := d.record(ctx, entry); err != nil {
			return nil, err
		}
		d.logger.Debug("postback suppressed by idempotency guard",
			"offer_id", offer.ID,
			"event_id", req.EventID,
			"key", key,
		)
		return &Result{OK: true, Status: entry.Status, Dedup: true, Attempt: entry.Attempt, LogID: entry.ID}, nil
	}

	payload := d.buildPayload(offer, req)
	body, err := payload.Canonical()
	if err != nil {
		return nil, err
	}
	secret := offer.SecretOr(d.cfg.Secret)

	if !offer.HasPostbackURL() {
		entry.Status = model.PostbackDryRun
		entry.Signature = Sign(secret, body)
		entry.ResponseBody = model.TruncateBody(string(body))
		if err := d.record(ctx, entry); err != nil {
			return nil, err
		}
		d.guard.Remember(ctx, key, d.cfg.DedupTTL)
		d.logger.Info("postback dry-run",
			"offer_id", offer.ID,
			"event_id", req.EventID,
			"payload", string(body),
		)
		return &Result{
			OK:        true,
			Status:    entry.Status,
			Signature: entry.Signature,
			DryRun:    true,
			Attempt:   entry.Attempt,
			LogID:     entry.ID,
		}, nil
	}

	httpReq, signature, err := d.newRequest(ctx, offer, payload, body, secret, req.EventID)
	if err != nil {
		return nil, err
	}
	entry.URL = offer.PostbackURL
	entry.Signature = signature

	timeout := offer.PostbackTimeout(d.cfg.Timeout)
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, sendErr := d.client.Do(httpReq.WithContext(sendCtx))
	elapsed := time.Since(start)
	elapsedMS := elapsed.Milliseconds()
	entry.ResponseTimeMS = &elapsedMS
	d.metrics.ObservePostbackDuration(elapsed)

	var deliveryErr *DeliveryError
	if sendErr != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			sendErr = fmt.Errorf("timeout after %s: %w", timeout, context.DeadlineExceeded)
		}
		deliveryErr = &DeliveryError{Err: sendErr}
	} else {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, model.MaxResponseBodyLen+utf8.UTFMax))
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		code := resp.StatusCode
		entry.HTTPStatus = &code
		entry.ResponseBody = model.TruncateBody(string(respBody))
		if code < 200 || code >= 300 {
			deliveryErr = &DeliveryError{StatusCode: code, Err: ErrNon2xx}
		}
	}

	result := &Result{
		Signature: signature,
		LogID:     entry.ID,
	}
	if entry.HTTPStatus != nil {
		result.HTTPStatus = *entry.HTTPStatus
	}

	if deliveryErr != nil {
		entry.Status = model.PostbackFailed
		entry.Error = deliveryErr.Error()
		if err := d.record(ctx, entry); err != nil {
			return nil, errors.Join(deliveryErr, err)
		}
		d.logger.Warn("postback delivery failed",
			"offer_id", offer.ID,
			"event_id", req.EventID,
			"target_host", ExtractHost(offer.PostbackURL),
			"attempt", entry.Attempt,
			"http_status", result.HTTPStatus,
			"error", deliveryErr.Err,
		)
		result.Status = entry.Status
		result.Attempt = entry.Attempt
		result.Error = entry.Error
		return result, deliveryErr
	}

	entry.Status = model.PostbackSent
	if err := d.record(ctx, entry); err != nil {
		return nil, err
	}
	d.guard.Remember(ctx, key, d.cfg.DedupTTL)
	d.logger.Info("postback delivered",
		"offer_id", offer.ID,
		"event_id", req.EventID,
		"target_host", ExtractHost(offer.PostbackURL),
		"attempt", entry.Attempt,
		"http_status", result.HTTPStatus,
		"duration_ms", elapsedMS,
	)

	result.OK = true
	result.Status = entry.Status
	result.Attempt = entry.Attempt
	return result, nil
}

func (d *Dispatcher) buildPayload(offer *model.Offer, req Request) Payload {
	payout := req.PayoutCents
	if payout == nil && offer.PayoutCents > 0 {
		p := offer.PayoutCents
		payout = &p
	}
	return Payload{
		EventType:   string(req.EventType),
		OfferID:     offer.ID,
		EventID:     req.EventID,
		TgID:        req.TgID,
		UID:         req.UID,
		ClickID:     req.ClickID,
		TS:          d.now().Unix(),
		PayoutCents: payout,
		Payload:     req.Payload,
	}
}

// newRequest builds the POST or GET request and returns its signature.
func (d *Dispatcher) newRequest(ctx context.Context, offer *model.Offer, payload Payload, body []byte, secret, eventID string) (*http.Request, string, error) {
	if offer.Method() == http.MethodGet {
		query, err := payload.Query()
		if err != nil {
			return nil, "", err
		}
		signature := Sign(secret, []byte(query.Encode()))
		query.Set(QuerySignature, signature)

		target, err := appendQuery(offer.PostbackURL, query)
		if err != nil {
			return nil, "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, "", fmt.Errorf("create request: %w", err)
		}
		setHeaders(req, signature, eventID, false)
		return req, signature, nil
	}

	signature := Sign(secret, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, offer.PostbackURL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	setHeaders(req, signature, eventID, true)
	return req, signature, nil
}

func (d *Dispatcher) record(ctx context.Context, entry *model.PostbackLog) error {
	if err := d.logs.InsertAttempt(ctx, entry); err != nil {
		return fmt.Errorf("log postback attempt: %w", err)
	}
	d.metrics.IncPostback(string(entry.Status))
	return nil
}
