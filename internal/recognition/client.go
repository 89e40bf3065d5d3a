// Package recognition is the HTTP client for the external face-matching
// service. The engine never does matching itself; it only turns a
// snapshot into a member identity via this pipeline.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Match is one candidate identity from a 1:N gallery search.
type Match struct {
	EmployeeID string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

// SearchResult contains the gallery search response for one snapshot.
type SearchResult struct {
	Matches       []Match `json:"matches"`
	FacesDetected int     `json:"faces_detected"`
}

// Best returns the strongest match at or above threshold, or nil.
func (r *SearchResult) Best(threshold float64) *Match {
	var best *Match
	for i := range r.Matches {
		m := &r.Matches[i]
		if m.Similarity < threshold {
			continue
		}
		if best == nil || m.Similarity > best.Similarity {
			best = m
		}
	}
	return best
}

// Client calls the recognition service.
type Client struct {
	baseURL string
	skip    bool
	http    *http.Client
}

// New creates a client. With skip=true every call returns a canned match,
// which keeps local development working without the recognition stack.
func New(baseURL string, skip bool) *Client {
	return &Client{
		baseURL: baseURL,
		skip:    skip,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Health verifies the service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recognition service unhealthy: %s", resp.Status)
	}
	return nil
}

// Search runs a 1:N search of the snapshot against the enrolled gallery.
func (c *Client) Search(ctx context.Context, imageURL string) (*SearchResult, error) {
	if c.skip {
		return &SearchResult{
			Matches:       []Match{{EmployeeID: "dev-member", Similarity: 0.99}},
			FacesDetected: 1,
		}, nil
	}

	payload, err := json.Marshal(map[string]string{"image_url": imageURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognition search failed: %s", resp.Status)
	}

	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("recognition response decode failed: %w", err)
	}
	return &result, nil
}
