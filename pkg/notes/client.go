// Copyright 2025 Origin Notes Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the note store's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("note store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("note store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode note store response: %w", err)
	}
	return nil
}

// ErrNotFound is returned for missing notes.
var ErrNotFound = fmt.Errorf("note not found")

func (c *Client) GetNote(ctx context.Context, id string) (*Note, error) {
	var note Note
	if err := c.do(ctx, http.MethodGet, "/notes/"+url.PathEscape(id), nil, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *Client) CreateNote(ctx context.Context, title, markdown string) (*Note, error) {
	var note Note
	payload := map[string]string{"title": title, "markdown": markdown}
	if err := c.do(ctx, http.MethodPost, "/notes", payload, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *Client) UpdateNoteContent(ctx context.Context, id, markdown string) error {
	payload := map[string]string{"markdown": markdown}
	return c.do(ctx, http.MethodPatch, "/notes/"+url.PathEscape(id), payload, nil)
}

func (c *Client) RenameNote(ctx context.Context, id, title string) error {
	payload := map[string]string{"title": title}
	return c.do(ctx, http.MethodPatch, "/notes/"+url.PathEscape(id), payload, nil)
}

func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notes/"+url.PathEscape(id), nil, nil)
}

func (c *Client) SetNoteCategory(ctx context.Context, id, categoryID string) error {
	payload := map[string]*string{"categoryId": nil}
	if categoryID != "" {
		payload["categoryId"] = &categoryID
	}
	return c.do(ctx, http.MethodPatch, "/notes/"+url.PathEscape(id)+"/category", payload, nil)
}

func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := c.do(ctx, http.MethodGet, "/categories", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// SearchClient talks to the knowledge index HTTP API.
type SearchClient struct {
	baseURL string
	http    *http.Client
}

func NewSearchClient(baseURL string, timeout time.Duration) *SearchClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *SearchClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("search index returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode search response: %w", err)
	}
	return nil
}

func (c *SearchClient) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	var results []SearchResult
	path := "/search?q=" + url.QueryEscape(query) + "&top_k=" + strconv.Itoa(topK)
	if err := c.get(ctx, path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *SearchClient) ListRecent(ctx context.Context, limit int) ([]NoteSummary, error) {
	if limit <= 0 {
		limit = 8
	}
	var notes []NoteSummary
	if err := c.get(ctx, "/notes/recent?limit="+strconv.Itoa(limit), &notes); err != nil {
		return nil, err
	}
	return notes, nil
}
