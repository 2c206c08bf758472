package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	events []CallEvent
}

func (r *recordingObserver) OnCallComplete(e CallEvent) { r.events = append(r.events, e) }

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = endpoint
	cfg.APIKey = "sk_test"
	cfg.TimeoutMs = 2000
	return cfg
}

func checkoutReq() CheckoutRequest {
	return CheckoutRequest{IdempotencyKey: "pay-1", ApplicationID: "app-1", StudentID: "stu-1", Amount: 50000}
}

func TestHTTPProvider_CreateCheckout_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var req checkoutRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(50000), req.Amount)
		assert.Equal(t, "app-1", req.Metadata["application_id"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(checkoutResponse{ID: "cs_123", URL: "https://pay.example/cs_123"})
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	checkout, err := NewHTTPProvider(testConfig(srv.URL), obs).CreateCheckout(context.Background(), checkoutReq())
	require.NoError(t, err)
	assert.Equal(t, "cs_123", checkout.SessionID)
	assert.Equal(t, "https://pay.example/cs_123", checkout.URL)
	require.Len(t, obs.events, 1)
	assert.True(t, obs.events[0].Success)
}

func TestHTTPProvider_RetriesServerErrorsWithSameKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(checkoutResponse{ID: "cs_retry"})
	}))
	defer srv.Close()

	checkout, err := NewHTTPProvider(testConfig(srv.URL), nil).CreateCheckout(context.Background(), checkoutReq())
	require.NoError(t, err)
	assert.Equal(t, "cs_retry", checkout.SessionID)
	assert.Equal(t, int32(3), calls.Load())
	close(keys)
	for k := range keys {
		assert.Equal(t, "pay-1", k)
	}
}

func TestHTTPProvider_DoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"amount too large"}`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	_, err := NewHTTPProvider(testConfig(srv.URL), obs).CreateCheckout(context.Background(), checkoutReq())
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, obs.events, 1)
	assert.Equal(t, "REJECTED", obs.events[0].ErrorCode)
}

func TestHTTPProvider_RetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(testConfig(srv.URL), nil).CreateCheckout(context.Background(), checkoutReq())
	assert.ErrorIs(t, err, ErrRetryExhausted)
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.TimeoutMs = 50
	_, err := NewHTTPProvider(cfg, nil).CreateCheckout(context.Background(), checkoutReq())
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestHTTPProvider_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.MaxRetries = 0
	_, err := NewHTTPProvider(cfg, nil).CreateCheckout(context.Background(), checkoutReq())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestManual_IsDeterministic(t *testing.T) {
	a, err := Manual{}.CreateCheckout(context.Background(), checkoutReq())
	require.NoError(t, err)
	b, err := Manual{}.CreateCheckout(context.Background(), checkoutReq())
	require.NoError(t, err)
	assert.Equal(t, a.SessionID, b.SessionID)

	_, err = Manual{}.CreateCheckout(context.Background(), CheckoutRequest{})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"session_id":"cs_1"}`)
	sig := Sign("whsec", body)

	assert.NoError(t, VerifySignature("whsec", body, sig))
	assert.ErrorIs(t, VerifySignature("whsec", body, "sha256=deadbeef"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("whsec", body, ""), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrBadSignature)
	assert.NoError(t, VerifySignature("", body, ""), "no secret disables verification")
}
