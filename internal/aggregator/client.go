// Package aggregator is a thin client for the upstream social scheduling API.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// Client talks to the aggregator over HTTPS with a per-user bearer key.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for baseURL. A nil httpClient gets one with timeout.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ListAccounts returns the caller's connected accounts.
func (c *Client) ListAccounts(ctx context.Context, apiKey string) ([]Account, error) {
	var body struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts", apiKey, nil, &body); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	connected := make([]Account, 0, len(body.Accounts))
	for _, acc := range body.Accounts {
		if strings.EqualFold(acc.Status, StatusConnected) {
			connected = append(connected, acc)
		}
	}
	return connected, nil
}

// CreateSchedule asks the aggregator to publish one post.
func (c *Client) CreateSchedule(ctx context.Context, apiKey string, payload SchedulePayload) (ScheduleResult, error) {
	var out ScheduleResult
	if err := c.do(ctx, http.MethodPost, "/schedules", apiKey, payload, &out); err != nil {
		return ScheduleResult{}, fmt.Errorf("create schedule: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		apiErr.Message = parsed.Error
		if apiErr.Message == "" {
			apiErr.Message = parsed.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
