// Package gateway implements the outbound HTTP adapter to the third-party
// card/wallet payment processor. It owns the retry policy, idempotency-key
// issuance, error classification, and webhook-signature verification. It has
// no knowledge of domain entities beyond request/response shapes.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/config"
	"github.com/marketplace-escrow/internal/domain/audit"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ErrChargeNotFound indicates the gateway has no record of the charge
var ErrChargeNotFound = errors.New("gateway has no record of the charge")

const maxAuditBodyBytes = 2048

// httpDoer wraps http.Client for testability
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs logical operations against the payment processor with
// bounded retries. All configuration is injected at construction; nothing is
// read from ambient state at call time.
type Client struct {
	cfg        config.GatewayConfig
	httpClient httpDoer
	recorder   audit.Repository
	logger     *slog.Logger
	// sleep is swappable in tests so retry paths run instantly
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a gateway client from an explicit configuration. The
// recorder receives one audit record per HTTP attempt and may be nil only in
// tests; audit failures are logged and never fail the payment path.
func NewClient(logger *slog.Logger, cfg config.GatewayConfig, recorder audit.Repository) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		recorder: recorder,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// sleepContext waits out the retry delay, returning early with the context's
// error if the caller goes away first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Payer carries the customer fields the gateway needs for a customer record
type Payer struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string
}

// ChargeRequest describes one logical charge attempt. IdempotencyKey is
// issued by the caller once per logical attempt and reused verbatim across
// that attempt's retries; NewChargeIdempotencyKey generates one.
type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Method         shared.PaymentMethod
	Token          string // One-time token from the client-side SDK
	CustomerID     string // Gateway customer id, for saved-card charges
	SavedCardID    string
	Description    string
	BookingRef     string // Carried as metadata for reconciliation
	RedirectURL    string // Where the gateway sends the payer after 3-D Secure
	IdempotencyKey string
}

// Card is a saved card summary returned by the gateway
type Card struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	LastFour string `json:"last_four"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// NewChargeIdempotencyKey issues a fresh key for one logical charge attempt
func NewChargeIdempotencyKey() string {
	return "chg_" + uuid.New().String()
}

// customerIdempotencyKey is stable per payer so retried customer creation
// cannot mint duplicate gateway customers.
func customerIdempotencyKey(payerID uuid.UUID) string {
	return "customer_" + payerID.String()
}

// Wire shapes. The gateway speaks JSON with amounts as strings.

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type customerResponse struct {
	ID string `json:"id"`
}

type chargePayload struct {
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Source      chargeSource      `json:"source"`
	Customer    *chargeCustomer   `json:"customer,omitempty"`
	Redirect    *chargeRedirect   `json:"redirect,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type chargeSource struct {
	ID string `json:"id"` // Token id or saved-card token
}

type chargeCustomer struct {
	ID string `json:"id"`
}

type chargeRedirect struct {
	URL string `json:"url"`
}

type chargeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Fee         string `json:"fee,omitempty"`
	Transaction struct {
		URL string `json:"url,omitempty"`
	} `json:"transaction"`
	Response struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"response"`
}

type tokenPayload struct {
	SavedCard struct {
		CardID     string `json:"card_id"`
		CustomerID string `json:"customer_id"`
	} `json:"saved_card"`
}

type tokenResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// CreateCustomer registers the payer with the gateway and returns the remote
// customer id. Validation rejections surface as *TerminalError; transient
// failures are retried within the attempt budget.
func (c *Client) CreateCustomer(ctx context.Context, payer Payer) (string, error) {
	payload := customerPayload{
		Name:  payer.Name,
		Email: payer.Email,
		Phone: payer.Phone,
	}

	result, err := c.doCall(ctx, "create_customer", http.MethodPost, "/customers", payload, customerIdempotencyKey(payer.ID))
	if err != nil {
		return "", err
	}

	var resp customerResponse
	if err := json.Unmarshal(result.body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode customer response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("gateway returned customer without id")
	}
	return resp.ID, nil
}

// CreateSavedCardToken obtains a one-time token for a merchant-initiated
// charge against a saved card.
func (c *Client) CreateSavedCardToken(ctx context.Context, customerID, cardID string) (string, error) {
	var payload tokenPayload
	payload.SavedCard.CardID = cardID
	payload.SavedCard.CustomerID = customerID

	result, err := c.doCall(ctx, "create_token", http.MethodPost, "/tokens", payload, "")
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(result.body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("gateway returned token without id")
	}
	return resp.ID, nil
}

// ListCards retrieves the payer's saved cards from the gateway
func (c *Client) ListCards(ctx context.Context, customerID string) ([]Card, error) {
	result, err := c.doCall(ctx, "list_cards", http.MethodGet, "/customers/"+customerID+"/cards", nil, "")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Cards []Card `json:"cards"`
	}
	if err := json.Unmarshal(result.body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cards response: %w", err)
	}
	return resp.Cards, nil
}

// CreateCharge performs one logical charge operation and returns a tagged
// Outcome. Transport and gateway failures are folded into the Outcome rather
// than returned as errors, so callers must branch on Outcome.Status; the
// error return covers only request-building failures.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Outcome, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("charge request requires an idempotency key")
	}

	sourceID := req.Token
	if sourceID == "" {
		sourceID = req.SavedCardID
	}
	payload := chargePayload{
		Amount:      req.Amount.StringFixed(3),
		Currency:    req.Currency,
		Description: req.Description,
		Source:      chargeSource{ID: sourceID},
	}
	if req.CustomerID != "" {
		payload.Customer = &chargeCustomer{ID: req.CustomerID}
	}
	if req.RedirectURL != "" {
		payload.Redirect = &chargeRedirect{URL: req.RedirectURL}
	}
	if req.BookingRef != "" {
		payload.Metadata = map[string]string{"booking_ref": req.BookingRef}
	}

	result, err := c.doCall(ctx, "create_charge", http.MethodPost, "/charges", payload, req.IdempotencyKey)
	return c.chargeOutcome(result, err)
}

// GetCharge queries the gateway for the current state of a charge. Used by
// the webhook follow-up and the reconciliation worker.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Outcome, error) {
	result, err := c.doCall(ctx, "get_charge", http.MethodGet, "/charges/"+chargeID, nil, "")
	if err != nil {
		var terminal *TerminalError
		if errors.As(err, &terminal) && terminal.StatusCode == http.StatusNotFound {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	return c.chargeOutcome(result, nil)
}

// GetChargeByIdempotencyKey looks a charge up by the key sent on the original
// attempt. This is the reconciliation path for exhausted charge attempts that
// never yielded an external id.
func (c *Client) GetChargeByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Outcome, error) {
	result, err := c.doCall(ctx, "find_charge", http.MethodGet, "/charges?idempotency_key="+idempotencyKey, nil, "")
	if err != nil {
		var terminal *TerminalError
		if errors.As(err, &terminal) && terminal.StatusCode == http.StatusNotFound {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}

	var listing struct {
		Charges []json.RawMessage `json:"charges"`
	}
	if err := json.Unmarshal(result.body, &listing); err == nil && len(listing.Charges) > 0 {
		result.body = listing.Charges[0]
	} else if err == nil && listing.Charges != nil {
		return nil, ErrChargeNotFound
	}
	return c.chargeOutcome(result, nil)
}

// chargeOutcome folds a call result and taxonomy error into a tagged Outcome
func (c *Client) chargeOutcome(result *callResult, err error) (*Outcome, error) {
	if err != nil {
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			return &Outcome{
				Status:    OutcomeExhausted,
				Attempts:  exhausted.Attempts,
				LastError: exhausted.LastErr.Error(),
			}, nil
		}
		var terminal *TerminalError
		if errors.As(err, &terminal) {
			return &Outcome{
				Status:      OutcomeTerminal,
				DeclineCode: terminal.Code,
				UserMessage: terminal.UserMessage,
			}, nil
		}
		return nil, err
	}

	var resp chargeResponse
	if err := json.Unmarshal(result.body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}

	outcome := &Outcome{
		ChargeID:      resp.ID,
		GatewayStatus: resp.Status,
		Attempts:      result.attempts,
		Raw:           json.RawMessage(result.body),
	}
	if resp.Fee != "" {
		if fee, ferr := decimal.NewFromString(resp.Fee); ferr == nil {
			outcome.Fee = fee
		}
	}

	switch resp.Status {
	case StatusCaptured, StatusAuthorized:
		outcome.Status = OutcomeSucceeded
	case StatusInitiated, StatusInProgress:
		outcome.Status = OutcomeSucceeded
		outcome.RequiresAction = true
		outcome.RedirectURL = resp.Transaction.URL
	default:
		outcome.Status = OutcomeTerminal
		outcome.DeclineCode = resp.Response.Code
		outcome.UserMessage = userMessageForCode(resp.Response.Code)
	}
	return outcome, nil
}

// callResult is the transport-level result of a completed call
type callResult struct {
	status   int
	body     []byte
	attempts int
}

// doCall executes one logical call with bounded retries. Only the allow-list
// of status codes is retried; any other non-2xx terminates immediately as a
// TerminalError. The same idempotency key rides on every retry. Each attempt
// is audited with a redacted request and truncated response.
func (c *Client) doCall(ctx context.Context, operation, method, path string, payload interface{}, idempotencyKey string) (*callResult, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", operation, err)
		}
	}
	sanitized := RedactJSON(body)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			// The retry sleep happens here, outside any database transaction.
			// A cancelled caller stops waiting immediately and no further
			// attempt is issued.
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, &ExhaustedError{Attempts: attempt - 1, LastErr: err}
			}
		}

		status, respBody, err := c.attempt(ctx, method, path, body, idempotencyKey)
		c.record(ctx, operation, idempotencyKey, attempt, sanitized, status, respBody, err)

		if err != nil {
			lastErr = err
			c.logger.Warn("Gateway attempt failed",
				"operation", operation,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		if status >= 200 && status < 300 {
			return &callResult{status: status, body: respBody, attempts: attempt}, nil
		}

		if retryableStatusCodes[status] {
			lastErr = fmt.Errorf("gateway returned retryable status %d", status)
			c.logger.Warn("Gateway returned retryable status",
				"operation", operation,
				"attempt", attempt,
				"status", status,
			)
			continue
		}

		// Non-retryable rejection: classify and stop immediately.
		code, message := parseGatewayError(respBody)
		c.logger.Error("Gateway rejected request",
			"operation", operation,
			"status", status,
			"code", code,
		)
		return nil, &TerminalError{
			StatusCode:  status,
			Code:        code,
			Message:     message,
			UserMessage: userMessageForCode(code),
		}
	}

	c.logger.Error("Gateway call exhausted retry budget",
		"operation", operation,
		"attempts", c.cfg.MaxAttempts,
		"error", lastErr,
	)
	return nil, &ExhaustedError{Attempts: c.cfg.MaxAttempts, LastErr: lastErr}
}

// attempt performs a single HTTP round trip
func (c *Client) attempt(ctx context.Context, method, path string, body []byte, idempotencyKey string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// record writes the per-attempt audit entry; failures are logged, never raised
func (c *Client) record(ctx context.Context, operation, idempotencyKey string, attempt int, requestBody string, status int, responseBody []byte, attemptErr error) {
	if c.recorder == nil {
		return
	}

	rec := &audit.Record{
		ID:             uuid.New(),
		Operation:      operation,
		IdempotencyKey: idempotencyKey,
		Attempt:        attempt,
		RequestBody:    requestBody,
		ResponseStatus: status,
		ResponseBody:   truncate(responseBody, maxAuditBodyBytes),
		CreatedAt:      time.Now(),
	}
	if attemptErr != nil {
		rec.Error = attemptErr.Error()
	}

	if err := c.recorder.Create(ctx, rec); err != nil {
		c.logger.Error("Failed to record gateway call audit entry",
			"operation", operation,
			"attempt", attempt,
			"error", err,
		)
	}
}

// parseGatewayError extracts the first error code/description from a
// rejection body, tolerating bodies that are not the documented shape.
func parseGatewayError(body []byte) (code, message string) {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Errors) > 0 {
		return resp.Errors[0].Code, resp.Errors[0].Description
	}
	return "", ""
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit])
}
