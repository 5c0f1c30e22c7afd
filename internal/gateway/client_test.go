package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/internal/config"
	"github.com/marketplace-escrow/internal/domain/audit"
	"github.com/marketplace-escrow/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// memoryRecorder collects audit records in memory
type memoryRecorder struct {
	mu      sync.Mutex
	records []*audit.Record
}

func (m *memoryRecorder) Create(_ context.Context, record *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memoryRecorder) GetByIdempotencyKey(_ context.Context, _ string) ([]*audit.Record, error) {
	return nil, nil
}

func (m *memoryRecorder) GetByTimeRange(_ context.Context, _, _ time.Time, _, _ int) ([]*audit.Record, error) {
	return nil, nil
}

func newTestClient(t *testing.T, baseURL string, recorder audit.Repository) *Client {
	t.Helper()
	client := NewClient(newTestLogger(), config.GatewayConfig{
		BaseURL:        baseURL,
		SecretKey:      "sk_test_secret",
		WebhookSecret:  "whsec_test",
		MaxAttempts:    3,
		RetryDelay:     time.Millisecond,
		RequestTimeout: time.Second,
	}, recorder)
	client.sleep = func(context.Context, time.Duration) error { return nil } // No real sleeping in tests
	return client
}

func chargeRequest() ChargeRequest {
	return ChargeRequest{
		Amount:         decimal.RequireFromString("100.000"),
		Currency:       "BHD",
		Method:         shared.PaymentMethodCard,
		Token:          "tok_visa",
		BookingRef:     uuid.New().String(),
		IdempotencyKey: NewChargeIdempotencyKey(),
	}
}

func TestClient_CreateCharge(t *testing.T) {
	t.Run("RetriesThenCaptures", func(t *testing.T) {
		var attempts int
		var seenKeys []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			seenKeys = append(seenKeys, r.Header.Get("Idempotency-Key"))
			if attempts < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"chg_ext_1","status":"CAPTURED","amount":"100.000","currency":"BHD","fee":"2.500"}`))
		}))
		defer server.Close()

		recorder := &memoryRecorder{}
		client := newTestClient(t, server.URL, recorder)
		req := chargeRequest()

		outcome, err := client.CreateCharge(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome.Status)
		assert.Equal(t, "chg_ext_1", outcome.ChargeID)
		assert.Equal(t, StatusCaptured, outcome.GatewayStatus)
		assert.True(t, outcome.Fee.Equal(decimal.RequireFromString("2.500")))
		assert.False(t, outcome.RequiresAction)

		// Exactly one real charge, same key on all three attempts.
		assert.Equal(t, 3, attempts)
		require.Len(t, seenKeys, 3)
		for _, key := range seenKeys {
			assert.Equal(t, req.IdempotencyKey, key)
		}

		// Every attempt audited.
		require.Len(t, recorder.records, 3)
		for i, rec := range recorder.records {
			assert.Equal(t, "create_charge", rec.Operation)
			assert.Equal(t, i+1, rec.Attempt)
			assert.Equal(t, req.IdempotencyKey, rec.IdempotencyKey)
		}
	})

	t.Run("RequiresActionCarriesRedirectURL", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"chg_ext_2","status":"INITIATED","transaction":{"url":"https://gateway.example.com/3ds/abc"}}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, &memoryRecorder{})

		outcome, err := client.CreateCharge(context.Background(), chargeRequest())

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome.Status)
		assert.True(t, outcome.RequiresAction)
		assert.Equal(t, "https://gateway.example.com/3ds/abc", outcome.RedirectURL)
	})

	t.Run("DeclineIsTerminalAndNotRetried", func(t *testing.T) {
		var attempts int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts++
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"errors":[{"code":"INSUFFICIENT_FUNDS","description":"card balance too low"}]}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, &memoryRecorder{})

		outcome, err := client.CreateCharge(context.Background(), chargeRequest())

		require.NoError(t, err)
		assert.Equal(t, 1, attempts, "terminal rejections must not be retried")
		assert.Equal(t, OutcomeTerminal, outcome.Status)
		assert.Equal(t, "INSUFFICIENT_FUNDS", outcome.DeclineCode)
		assert.Equal(t, "The payment was declined due to insufficient funds.", outcome.UserMessage)
		assert.NotContains(t, outcome.UserMessage, "card balance too low", "raw gateway internals must not surface")
	})

	t.Run("ExhaustedAfterBudget", func(t *testing.T) {
		var attempts int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts++
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		recorder := &memoryRecorder{}
		client := newTestClient(t, server.URL, recorder)

		outcome, err := client.CreateCharge(context.Background(), chargeRequest())

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, OutcomeExhausted, outcome.Status)
		assert.Equal(t, 3, outcome.Attempts)
		assert.NotEmpty(t, outcome.LastError)
		assert.Empty(t, outcome.ChargeID, "exhausted outcome must not claim a charge id")
		assert.Len(t, recorder.records, 3)
	})

	t.Run("CancelledContextStopsRetrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var attempts int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts++
			cancel()
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		// The real sleep must be in place: a minute-long retry delay proves
		// cancellation cuts the wait short.
		client := NewClient(newTestLogger(), config.GatewayConfig{
			BaseURL:        server.URL,
			SecretKey:      "sk_test_secret",
			WebhookSecret:  "whsec_test",
			MaxAttempts:    3,
			RetryDelay:     time.Minute,
			RequestTimeout: time.Second,
		}, &memoryRecorder{})

		start := time.Now()
		outcome, err := client.CreateCharge(ctx, chargeRequest())

		require.NoError(t, err)
		assert.Equal(t, OutcomeExhausted, outcome.Status)
		assert.Contains(t, outcome.LastError, context.Canceled.Error())
		assert.Equal(t, 1, attempts, "no further attempts after cancellation")
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("MissingIdempotencyKeyRejected", func(t *testing.T) {
		client := newTestClient(t, "http://localhost:0", &memoryRecorder{})
		req := chargeRequest()
		req.IdempotencyKey = ""

		_, err := client.CreateCharge(context.Background(), req)
		assert.Error(t, err)
	})
}

func TestClient_CreateCustomer(t *testing.T) {
	t.Run("StableKeyPerPayer", func(t *testing.T) {
		var seenKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenKey = r.Header.Get("Idempotency-Key")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"cus_123"}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, &memoryRecorder{})
		payer := Payer{ID: uuid.New(), Name: "Aysha", Email: "aysha@example.com"}

		customerID, err := client.CreateCustomer(context.Background(), payer)

		require.NoError(t, err)
		assert.Equal(t, "cus_123", customerID)
		assert.Equal(t, "customer_"+payer.ID.String(), seenKey)
	})

	t.Run("ValidationErrorSurfacesAsTerminal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"errors":[{"code":"INVALID_CUSTOMER","description":"email is malformed"}]}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, &memoryRecorder{})

		_, err := client.CreateCustomer(context.Background(), Payer{ID: uuid.New(), Name: "X", Email: "bad"})

		var terminal *TerminalError
		require.ErrorAs(t, err, &terminal)
		assert.Equal(t, "INVALID_CUSTOMER", terminal.Code)
		assert.Equal(t, http.StatusUnprocessableEntity, terminal.StatusCode)
	})
}

func TestClient_SavedCards(t *testing.T) {
	t.Run("CreateSavedCardToken", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/tokens", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"tok_saved_1"}`))
		}))
		defer server.Close()
		client := newTestClient(t, server.URL, &memoryRecorder{})

		token, err := client.CreateSavedCardToken(context.Background(), "cus_1", "card_1")

		require.NoError(t, err)
		assert.Equal(t, "tok_saved_1", token)
	})

	t.Run("ListCards", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/customers/cus_1/cards", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"cards":[{"id":"card_1","last_four":"1111","brand":"VISA"}]}`))
		}))
		defer server.Close()
		client := newTestClient(t, server.URL, &memoryRecorder{})

		cards, err := client.ListCards(context.Background(), "cus_1")

		require.NoError(t, err)
		require.Len(t, cards, 1)
		assert.Equal(t, "card_1", cards[0].ID)
		assert.Equal(t, "1111", cards[0].LastFour)
	})
}

func TestClient_GetCharge(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[{"code":"NOT_FOUND","description":"no such charge"}]}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, &memoryRecorder{})

		_, err := client.GetCharge(context.Background(), "chg_missing")
		assert.ErrorIs(t, err, ErrChargeNotFound)
	})

	t.Run("ByIdempotencyKey", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "idem_abc", r.URL.Query().Get("idempotency_key"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"charges":[{"id":"chg_found","status":"CAPTURED"}]}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, &memoryRecorder{})

		outcome, err := client.GetChargeByIdempotencyKey(context.Background(), "idem_abc")

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome.Status)
		assert.Equal(t, "chg_found", outcome.ChargeID)
	})

	t.Run("ByIdempotencyKeyEmptyListing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"charges":[]}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, &memoryRecorder{})

		_, err := client.GetChargeByIdempotencyKey(context.Background(), "idem_none")
		assert.ErrorIs(t, err, ErrChargeNotFound)
	})
}

func TestRedactJSON(t *testing.T) {
	t.Run("MasksCardFields", func(t *testing.T) {
		body := []byte(`{"source":{"card":{"number":"4111111111111111","cvv":"123","name":"A"}},"amount":"10.000"}`)

		redacted := RedactJSON(body)

		assert.NotContains(t, redacted, "4111111111111111")
		assert.NotContains(t, redacted, `"123"`)
		assert.Contains(t, redacted, "****1111")
		assert.Contains(t, redacted, "10.000")
	})

	t.Run("UnparseableBodyDropped", func(t *testing.T) {
		assert.Equal(t, "[unparseable body redacted]", RedactJSON([]byte("4111111111111111")))
	})

	t.Run("EmptyBody", func(t *testing.T) {
		assert.Equal(t, "", RedactJSON(nil))
	})
}
