// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport is the overlay side of the commit endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/manipulative/services/manipulative/protocol"
	"github.com/AleutianAI/manipulative/services/manipulative/telemetry"
)

// DefaultTimeout bounds one commit round trip.
const DefaultTimeout = 30 * time.Second

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("commit request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CommitError means the server answered with a non-2xx status.
type CommitError struct {
	StatusCode int
	Message    string
	Failures   []protocol.FileFailure
}

func (e *CommitError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("commit rejected (%d): %s", e.StatusCode, e.Message)
	}
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = fmt.Sprintf("%s (%s)", f.FileName, f.Code)
	}
	return fmt.Sprintf("commit failed for %d file(s): %s", len(e.Failures), strings.Join(names, ", "))
}

// Client posts commit batches to a manipulative server.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:3001".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithTimeout sets the round-trip timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Commit sends updates to POST /commit and returns the server's response.
//
// Network failures return *TransportError and non-2xx statuses return
// *CommitError. Nothing is retried.
func (c *Client) Commit(ctx context.Context, updates []protocol.Update) error {
	_, err := c.send(ctx, "/commit", updates)
	return err
}

// Preview sends updates to POST /commit?dry_run=true and returns the diffs.
func (c *Client) Preview(ctx context.Context, updates []protocol.Update) ([]protocol.FileDiff, error) {
	resp, err := c.send(ctx, "/commit?dry_run=true", updates)
	if err != nil {
		return nil, err
	}
	return resp.Diffs, nil
}

func (c *Client) send(ctx context.Context, path string, updates []protocol.Update) (*protocol.CommitResponse, error) {
	body, err := json.Marshal(protocol.CommitRequest{Updates: updates})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	telemetry.InjectContext(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ce := &CommitError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var cr protocol.CommitResponse
		if json.Unmarshal(raw, &cr) == nil && len(cr.Failures) > 0 {
			ce.Failures = cr.Failures
		}
		var er protocol.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			ce.Message = er.Error
		}
		return nil, ce
	}

	var cr protocol.CommitResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cr); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return &cr, nil
}
