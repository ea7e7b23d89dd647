// Package gist stores the Messages artifact in a private GitHub Gist so a
// run on another machine can pick it up.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultAPIURL = "https://api.github.com"
	// FileName is the gist file holding the artifact.
	FileName    = "messages_stats.json"
	description = "replyclock - Messages Stats"
)

// Client is a minimal GitHub Gist API client.
type Client struct {
	token  string
	client *http.Client
	apiURL string
	logger *slog.Logger
}

func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		apiURL: defaultAPIURL,
		logger: logger,
	}
}

type gistFile struct {
	Content   string `json:"content,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

type gistResponse struct {
	ID      string              `json:"id"`
	HTMLURL string              `json:"html_url"`
	Files   map[string]gistFile `json:"files"`
}

// Upload writes content to the gist identified by id, or creates a new
// private gist when id is empty. It returns the gist id to reuse next time.
func (c *Client) Upload(ctx context.Context, id string, content []byte) (string, error) {
	body, err := json.Marshal(map[string]any{
		"description": description,
		"public":      false,
		"files": map[string]gistFile{
			FileName: {Content: string(content)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gist: %w", err)
	}

	method, u := http.MethodPost, c.apiURL+"/gists"
	if id != "" {
		method, u = http.MethodPatch, c.apiURL+"/gists/"+id
	}

	var out gistResponse
	if err := c.do(ctx, method, u, body, &out); err != nil {
		return "", fmt.Errorf("upload gist: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload gist: response has no id")
	}

	c.logger.Info("uploaded messages artifact", "gist_id", out.ID, "url", out.HTMLURL, "created", id == "")
	return out.ID, nil
}

// Download returns the artifact file from gist id.
func (c *Client) Download(ctx context.Context, id string) ([]byte, error) {
	var g gistResponse
	if err := c.do(ctx, http.MethodGet, c.apiURL+"/gists/"+id, nil, &g); err != nil {
		return nil, fmt.Errorf("get gist: %w", err)
	}

	f, ok := g.Files[FileName]
	if !ok {
		return nil, fmt.Errorf("gist %s has no %s", id, FileName)
	}
	if !f.Truncated {
		return []byte(f.Content), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.RawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get raw gist file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get raw gist file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, v any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("github api returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
