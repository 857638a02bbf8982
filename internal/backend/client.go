// Package backend talks to the remote drive REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrUnauthenticated is returned when a call needs a credential and none is stored.
var ErrUnauthenticated = errors.New("no access token")

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer credential. An error or empty token means
// the device is not logged in.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TransportError is any failed backend exchange: network error, timeout, or a
// non-success status.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Client struct {
	baseURL string
	http    HTTPClient
	tokens  TokenSource
	timeout time.Duration
}

func NewClient(baseURL string, httpClient HTTPClient, tokens TokenSource, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		timeout: timeout,
	}
}

// SessionsByDate lists the drives recorded on the given day.
func (c *Client) SessionsByDate(ctx context.Context, day time.Time) ([]SessionSummary, error) {
	q := url.Values{"date": {day.Format("2006-01-02")}}
	body, err := c.do(ctx, "sessions by date", http.MethodGet, "/drive/by-date?"+q.Encode(), nil, false)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Sessions != nil {
		return wrapped.Sessions, nil
	}
	var list []SessionSummary
	if err := json.Unmarshal(body, &list); err == nil && list != nil {
		return list, nil
	}
	return []SessionSummary{}, nil
}

// Session fetches one drive including its point payload.
func (c *Client) Session(ctx context.Context, id int64) (SessionDetail, error) {
	body, err := c.do(ctx, "session", http.MethodGet, "/drive/session/"+strconv.FormatInt(id, 10), nil, false)
	if err != nil {
		return SessionDetail{}, err
	}

	detail := SessionDetail{Raw: body}
	// the point payload is normalized separately; a summary that does not fit
	// the expected shape still leaves Raw usable
	_ = json.Unmarshal(body, &detail.SessionSummary)
	if detail.ID == 0 {
		detail.ID = id
	}
	return detail, nil
}

func (c *Client) TotalKm(ctx context.Context) (float64, error) {
	return c.km(ctx, "total km", "/drive/total-km", "total_km")
}

func (c *Client) TodayKm(ctx context.Context) (float64, error) {
	return c.km(ctx, "today km", "/drive/today-km", "today_km")
}

// UploadDrive posts a finished drive. Only 200 and 201 count as accepted.
func (c *Client) UploadDrive(ctx context.Context, req UploadRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "upload drive", http.MethodPost, "/drive/add-point", payload, false)
	return err
}

func (c *Client) km(ctx context.Context, op, path, field string) (float64, error) {
	body, err := c.do(ctx, op, http.MethodGet, path, nil, true)
	if err != nil {
		return 0, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return 0, &TransportError{Op: op, Status: http.StatusOK, Err: err}
	}
	return parseKm(fields[field]), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, requireAuth bool) ([]byte, error) {
	token := c.token(ctx)
	if requireAuth && token == "" {
		return nil, ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &TransportError{Op: op, Status: resp.StatusCode}
	}
	return body, nil
}

func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return ""
	}
	return token
}

// parseKm accepts a JSON number or numeric string; anything else is 0.
func parseKm(raw json.RawMessage) float64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return 0
}
