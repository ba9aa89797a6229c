package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"sage/pkg/protocol"
)

// HTTPReviewer posts session digests to an external review endpoint and
// decodes suggestion chips from the response. The caller bounds every call
// with a timeout via ctx.
type HTTPReviewer struct {
	url    string
	client *http.Client
}

// NewHTTPReviewer creates a reviewer for the given endpoint URL.
func NewHTTPReviewer(url string) *HTTPReviewer {
	return &HTTPReviewer{url: url, client: &http.Client{}}
}

// Review implements advisor.Reviewer.
func (r *HTTPReviewer) Review(ctx context.Context, digest protocol.SessionSummary) ([]protocol.SuggestionChip, error) {
	body, err := json.Marshal(digest)
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build review request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("review call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("review call: status %d", resp.StatusCode)
	}

	var out struct {
		Chips []protocol.SuggestionChip `json:"chips"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode review response: %w", err)
	}
	return out.Chips, nil
}
