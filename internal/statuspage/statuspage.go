// Package statuspage polls the public service status feed so the display can
// distinguish "the service is down" from "your session is broken".
package statuspage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultURL is the public status feed for the service.
const DefaultURL = "https://status.anthropic.com/api/v2/status.json"

const (
	cacheTTL       = 60 * time.Second
	requestTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Indicator is the severity reported by the status feed.
type Indicator string

const (
	IndicatorNone     Indicator = "none"
	IndicatorMinor    Indicator = "minor"
	IndicatorMajor    Indicator = "major"
	IndicatorCritical Indicator = "critical"
)

// Status is a point-in-time reading of the feed.
type Status struct {
	Indicator   Indicator
	Description string
	UpdatedAt   time.Time
}

// Degraded reports whether the feed shows any active incident.
func (s Status) Degraded() bool {
	return s.Indicator != "" && s.Indicator != IndicatorNone
}

// Client fetches the status feed with a short-lived cache so refresh cycles
// and the display can poll freely without hammering the endpoint.
type Client struct {
	url  string
	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	cached    Status
	fetchedAt time.Time
}

// NewClient builds a Client against the given feed URL, or DefaultURL when
// empty.
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: requestTimeout},
		now:  time.Now,
	}
}

type feedPayload struct {
	Status struct {
		Indicator   string `json:"indicator"`
		Description string `json:"description"`
	} `json:"status"`
	Page struct {
		UpdatedAt string `json:"updated_at"`
	} `json:"page"`
}

// Current returns the cached status, refreshing it when older than the TTL.
// A fetch failure with a warm cache returns the stale reading; with a cold
// cache it returns the error.
func (c *Client) Current(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < cacheTTL {
		return c.cached, nil
	}

	status, err := c.fetch(ctx)
	if err != nil {
		if !c.fetchedAt.IsZero() {
			return c.cached, nil
		}
		return Status{}, err
	}
	c.cached = status
	c.fetchedAt = c.now()
	return status, nil
}

func (c *Client) fetch(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("status feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("status feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Status{}, fmt.Errorf("status feed: read body: %w", err)
	}

	var payload feedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Status{}, fmt.Errorf("status feed: decode: %w", err)
	}

	out := Status{
		Indicator:   Indicator(payload.Status.Indicator),
		Description: payload.Status.Description,
	}
	if ts, parseErr := time.Parse(time.RFC3339, payload.Page.UpdatedAt); parseErr == nil {
		out.UpdatedAt = ts
	}
	return out, nil
}
