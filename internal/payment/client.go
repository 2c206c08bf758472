package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// httpProvider implements Provider against a hosted checkout REST API.
type httpProvider struct {
	cfg      Config
	http     *http.Client
	observer Observer
}

// NewHTTPProvider creates a Provider that calls cfg.Endpoint.
func NewHTTPProvider(cfg Config, observer Observer) Provider {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &httpProvider{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
		observer: observer,
	}
}

// checkoutRequest is the JSON body sent to POST /v1/checkout/sessions.
type checkoutRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	SuccessURL  string            `json:"success_url,omitempty"`
	CancelURL   string            `json:"cancel_url,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type checkoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// rejectedError marks a 4xx answer so the retry loop stops.
type rejectedError struct {
	status int
	body   string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.status, e.body)
}

func (c *httpProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	body := checkoutRequest{
		Amount:      req.Amount,
		Currency:    c.cfg.Currency,
		Description: req.Description,
		SuccessURL:  c.cfg.SuccessURL,
		CancelURL:   c.cfg.CancelURL,
		Metadata: map[string]string{
			"application_id": req.ApplicationID,
			"student_id":     req.StudentID,
			"payment_id":     req.IdempotencyKey,
		},
	}

	var lastErr error
	attempts := 1 + c.cfg.MaxRetries
	made := 0

	for i := 0; i < attempts; i++ {
		made++
		resp, err := c.doRequest(ctx, req.IdempotencyKey, body)
		if err == nil {
			c.observer.OnCallComplete(CallEvent{
				Operation: "create_checkout",
				PaymentID: req.IdempotencyKey,
				LatencyMs: time.Since(start).Milliseconds(),
				Attempts:  made,
				Success:   true,
			})
			return &Checkout{SessionID: resp.ID, URL: resp.URL}, nil
		}
		lastErr = err

		var rej *rejectedError
		if errors.As(err, &rej) || ctx.Err() != nil {
			break
		}
	}

	var finalErr error
	var rej *rejectedError
	switch {
	case ctx.Err() != nil:
		finalErr = ErrTimeout
	case errors.As(lastErr, &rej):
		finalErr = fmt.Errorf("%w: %v", ErrRejected, lastErr)
	case isConnectionError(lastErr):
		finalErr = ErrProviderUnavailable
	default:
		finalErr = fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
	}
	c.observer.OnCallComplete(CallEvent{
		Operation: "create_checkout",
		PaymentID: req.IdempotencyKey,
		LatencyMs: time.Since(start).Milliseconds(),
		Attempts:  made,
		Success:   false,
		ErrorCode: errorCode(finalErr),
	})
	return nil, finalErr
}

func (c *httpProvider) doRequest(ctx context.Context, idempotencyKey string, body checkoutRequest) (*checkoutResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.cfg.Endpoint + "/v1/checkout/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
		return nil, &rejectedError{status: httpResp.StatusCode, body: string(respBody)}
	}
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("provider returned status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp checkoutResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("provider response missing session id")
	}
	return &resp, nil
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrProviderUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, ErrRejected):
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}
