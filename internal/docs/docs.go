// Package docs asks the document service whether an application's
// required documents are verified.
package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable indicates the document service could not be reached or
// answered with a server error.
var ErrUnavailable = errors.New("document service unavailable")

// Static answers every query with the same result. It is used when no
// document service endpoint is configured.
type Static struct {
	Verified bool
}

func (s Static) DocumentsVerified(context.Context, string) (bool, error) {
	return s.Verified, nil
}

// Client queries GET {endpoint}/applications/{id}/verification.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewClient(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
	}
}

type verificationResponse struct {
	ApplicationID string   `json:"application_id"`
	Verified      bool     `json:"verified"`
	Missing       []string `json:"missing,omitempty"`
}

// DocumentsVerified reports the document service's verdict. An application
// the service does not know has nothing verified.
func (c *Client) DocumentsVerified(ctx context.Context, applicationID string) (bool, error) {
	u := c.endpoint + "/applications/" + url.PathEscape(applicationID) + "/verification"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("document service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out verificationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return out.Verified, nil
}
