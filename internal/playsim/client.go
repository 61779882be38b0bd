package playsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/internal/domain/types"
)

// Record is the wire shape of a stored record.
type Record struct {
	ID        string           `json:"id"`
	SheetID   string           `json:"sheetId"`
	Score     uint32           `json:"score"`
	ClearType model.ClearGrade `json:"clearType"`
	PlayCount uint32           `json:"playCount"`
	UpdatedAt string           `json:"updatedAt"`
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Client talks to the tempo HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Health returns nil when GET /health answers 200.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// Submit posts b and reports whether the server replayed a stored response.
func (c *Client) Submit(ctx context.Context, b Batch) ([]Record, bool, error) {
	body, err := json.Marshal(b.Plays)
	if err != nil {
		return nil, false, fmt.Errorf("marshal batch: %w", err)
	}
	var (
		out      []Record
		replayed bool
	)
	header := http.Header{}
	if b.Key != "" {
		header.Set("Idempotency-Key", b.Key)
	}
	err = c.do(ctx, http.MethodPost, userPath(b.PlayerID, "records"), header, body, func(resp *http.Response) error {
		replayed = resp.Header.Get("Idempotent-Replayed") == "true"
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	return out, replayed, err
}

// Records returns every stored record of playerID.
func (c *Client) Records(ctx context.Context, playerID string) ([]Record, error) {
	var out []Record
	err := c.do(ctx, http.MethodGet, userPath(playerID, "records"), nil, nil, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	return out, err
}

// Progress returns the xp, rating and ranks of playerID.
func (c *Client) Progress(ctx context.Context, playerID string) (types.Progress, error) {
	var out types.Progress
	err := c.do(ctx, http.MethodGet, userPath(playerID, "progress"), nil, nil, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	return out, err
}

func userPath(playerID, leaf string) string {
	return "/users/" + url.PathEscape(playerID) + "/" + leaf
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte, decode func(*http.Response) error) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: req.URL.String(), Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if decode == nil {
		return nil
	}
	return decode(resp)
}
