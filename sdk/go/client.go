package listingintelsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Listing Intelligence HTTP API client, suitable for
// capture surfaces and extraction workers.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Submission represents the API submission model (partial).
type Submission struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Origin      string         `json:"origin"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	SubmittedAt string         `json:"submitted_at"`
	ProcessedAt string         `json:"processed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Listing is the structured record an extractor hands back.
type Listing struct {
	URL         string  `json:"url,omitempty"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Hours       string  `json:"hours,omitempty"`
	Year        string  `json:"year,omitempty"`
	Condition   string  `json:"condition,omitempty"`
	Maintenance string  `json:"maintenance,omitempty"`
	Location    string  `json:"location,omitempty"`
	Trailer     string  `json:"trailer,omitempty"`
	TitleStatus string  `json:"title_status,omitempty"`
}

type Processed struct {
	Submission Submission `json:"submission"`
	StepErrors []string   `json:"step_errors,omitempty"`
}

type Alert struct {
	SubmissionID  string  `json:"submission_id,omitempty"`
	URL           string  `json:"url"`
	Tier          string  `json:"tier"`
	Score         float64 `json:"score"`
	PercentDelta  float64 `json:"percent_delta"`
	PreviousPrice float64 `json:"previous_price"`
	LatestPrice   float64 `json:"latest_price"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is filled from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Submit captures a listing URL. origin may be empty for manual.
func (c *Client) Submit(ctx context.Context, listingURL, origin string) (Submission, error) {
	body := map[string]any{"url": listingURL}
	if origin != "" {
		body["origin"] = origin
	}
	var resp Submission
	err := c.do(ctx, http.MethodPost, "submissions", body, &resp)
	return resp, err
}

// Submissions lists submissions, optionally filtered by status.
func (c *Client) Submissions(ctx context.Context, status string, limit int) ([]Submission, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Items []Submission `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("submissions", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) Submission(ctx context.Context, id string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodGet, "submissions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Complete hands an extracted listing back. Step errors do not fail the call.
func (c *Client) Complete(ctx context.Context, id string, listing Listing) (Processed, error) {
	var resp Processed
	err := c.do(ctx, http.MethodPost, "submissions/"+url.PathEscape(id)+"/extraction", map[string]any{"listing": listing}, &resp)
	return resp, err
}

func (c *Client) Fail(ctx context.Context, id, reason string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "submissions/"+url.PathEscape(id)+"/failure", map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "submissions/"+url.PathEscape(id), nil, nil)
}

// Alerts returns current price drops of at least minDrop (a fraction; 0 uses the server default).
func (c *Client) Alerts(ctx context.Context, minDrop float64) ([]Alert, error) {
	q := url.Values{}
	if minDrop > 0 {
		q.Set("min_drop", fmt.Sprint(minDrop))
	}
	var resp struct {
		Items []Alert `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("alerts", q), nil, &resp)
	return resp.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
