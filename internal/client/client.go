// Package client talks to the crowdreel REST API on behalf of a player. It
// implements the overlay's comment persister and reaction recorder.
package client

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
	"time"

	"github.com/crowdreel/crowdreel/internal/httputil"
	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/crowdreel/crowdreel/internal/snapshot"
)

const maxResponseBodyBytes = 1 << 20

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crowdreel api: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	retryDelays []time.Duration
}

// New returns a client for the API at baseURL. token may be empty for
// read-only use.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		token:       token,
		http:        &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{250 * time.Millisecond, time.Second},
	}
}

func (c *Client) FetchSnapshot(ctx context.Context, episodeID string) (*snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	if err := c.do(ctx, http.MethodGet, episodePath(episodeID, "overlay"), nil, &snap); err != nil {
		return nil, err
	}
	if snap.Comments == nil {
		snap.Comments = overlay.CommentBuckets{}
	}
	if snap.Reactions == nil {
		snap.Reactions = overlay.ReactionBuckets{}
	}
	return &snap, nil
}

type commentRequest struct {
	Content          string `json:"content"`
	TimestampSeconds int    `json:"timestampSeconds"`
}

func (c *Client) PersistComment(ctx context.Context, episodeID, content string, timestampSeconds int) (overlay.Comment, error) {
	var created overlay.Comment
	err := c.do(ctx, http.MethodPost, episodePath(episodeID, "comments"),
		commentRequest{Content: content, TimestampSeconds: timestampSeconds}, &created)
	if err != nil {
		return overlay.Comment{}, err
	}
	return created, nil
}

type reactionRequest struct {
	Emoji            string `json:"emoji"`
	TimestampSeconds int    `json:"timestampSeconds"`
}

// RecordReactionOccurrence retries while the server reports it is busy.
func (c *Client) RecordReactionOccurrence(ctx context.Context, episodeID string, timestampSeconds int, emoji string) error {
	body := reactionRequest{Emoji: emoji, TimestampSeconds: timestampSeconds}
	var lastErr error
	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		lastErr = c.do(ctx, http.MethodPost, episodePath(episodeID, "reactions"), body, nil)
		var apiErr *APIError
		if lastErr == nil || !errors.As(lastErr, &apiErr) || !apiErr.Retryable() {
			return lastErr
		}
		if attempt < len(c.retryDelays) {
			select {
			case <-time.After(c.retryDelays[attempt]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func episodePath(episodeID, resource string) string {
	return "/api/episodes/" + url.PathEscape(episodeID) + "/" + resource
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody httputil.ErrorBody
		if json.Unmarshal(respBody, &errBody) != nil || errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
