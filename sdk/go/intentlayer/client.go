// Package intentlayer is the Go client for the IntentLayer-Lite router.
package intentlayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Options configures a Client.
type Options struct {
	// RPCURL is the router base URL, e.g. http://localhost:8080.
	RPCURL string
	// Network is stamped on mandates registered without one.
	Network string
	// Token is an optional bearer token.
	Token      string
	HTTPClient *http.Client
}

// Client wraps the HTTP interactions with the router REST API.
type Client struct {
	baseURL    *url.URL
	network    string
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// NewClient validates the options and returns a client.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.RPCURL)
	if raw == "" {
		return nil, errors.New("intentlayer: RPCURL is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("intentlayer: invalid RPCURL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("intentlayer: unsupported RPCURL scheme %q", parsed.Scheme)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		baseURL:     parsed,
		network:     strings.TrimSpace(opts.Network),
		httpClient:  httpClient,
		accessToken: strings.TrimSpace(opts.Token),
	}, nil
}

// Network returns the default network.
func (c *Client) Network() string {
	return c.network
}

// SetAccessToken overrides the stored bearer token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// RegisterMandate registers a mandate for an agent.
func (c *Client) RegisterMandate(ctx context.Context, req MandateRequest) (Mandate, error) {
	if req.Network == "" {
		req.Network = c.network
	}
	var m Mandate
	if err := c.send(ctx, http.MethodPost, "/api/v1/mandates", req, &m); err != nil {
		return Mandate{}, err
	}
	return m, nil
}

// GetMandate fetches a mandate by ID.
func (c *Client) GetMandate(ctx context.Context, id string) (Mandate, error) {
	var m Mandate
	if err := c.send(ctx, http.MethodGet, "/api/v1/mandates/"+url.PathEscape(id), nil, &m); err != nil {
		return Mandate{}, err
	}
	return m, nil
}

// RevokeMandate revokes a mandate. Revoking twice keeps the first reason.
func (c *Client) RevokeMandate(ctx context.Context, id, reason string) (Mandate, error) {
	var m Mandate
	body := map[string]string{"reason": reason}
	if err := c.send(ctx, http.MethodPost, "/api/v1/mandates/"+url.PathEscape(id)+"/revoke", body, &m); err != nil {
		return Mandate{}, err
	}
	return m, nil
}

// MandateBudget returns today's spend for a mandate.
func (c *Client) MandateBudget(ctx context.Context, id string) (Budget, error) {
	var b Budget
	if err := c.send(ctx, http.MethodGet, "/api/v1/mandates/"+url.PathEscape(id)+"/budget", nil, &b); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// SubmitIntent queues an intent. The receipt is usually still pending.
func (c *Client) SubmitIntent(ctx context.Context, req IntentRequest) (IntentReceipt, error) {
	var receipt IntentReceipt
	if err := c.send(ctx, http.MethodPost, "/api/v1/intents", req, &receipt); err != nil {
		return IntentReceipt{}, err
	}
	return receipt, nil
}

// PreviewIntent compiles an intent without reserving budget or queueing it.
func (c *Client) PreviewIntent(ctx context.Context, req IntentRequest) (Plan, error) {
	var plan Plan
	if err := c.send(ctx, http.MethodPost, "/api/v1/intents/preview", req, &plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// GetIntent fetches the current state of an intent.
func (c *Client) GetIntent(ctx context.Context, id string) (IntentReceipt, error) {
	var receipt IntentReceipt
	if err := c.send(ctx, http.MethodGet, "/api/v1/intents/"+url.PathEscape(id), nil, &receipt); err != nil {
		return IntentReceipt{}, err
	}
	return receipt, nil
}

// WaitForIntent polls until the intent is final or ctx is done.
func (c *Client) WaitForIntent(ctx context.Context, id string, interval time.Duration) (IntentReceipt, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := c.GetIntent(ctx, id)
		if err != nil {
			return IntentReceipt{}, err
		}
		if receipt.Final() {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// newRequest expects endpoint to be an already escaped path.
func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
