// Package search finds web sources for a chat question through the Exa
// search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "songbot/pkg/logx"
)

const (
	DefaultBaseURL    = "https://api.exa.ai"
	DefaultNumResults = 3
	untitled          = "Без названия"
)

type Config struct {
	APIKey     string
	BaseURL    string
	NumResults int
	Timeout    time.Duration
}

// Source is one search hit reduced to what the prompt needs.
type Source struct {
	Title     string
	URL       string
	Highlight string
	Date      string
}

type Client struct {
	key  string
	base string
	n    int
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("search: api key required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	n := cfg.NumResults
	if n <= 0 {
		n = DefaultNumResults
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{key: cfg.APIKey, base: base, n: n, http: &http.Client{Timeout: timeout}, log: log}, nil
}

type searchRequest struct {
	Query         string         `json:"query"`
	Type          string         `json:"type"`
	UseAutoprompt bool           `json:"useAutoprompt"`
	NumResults    int            `json:"numResults"`
	Contents      searchContents `json:"contents"`
}

type searchContents struct {
	Highlights bool `json:"highlights"`
}

type searchResponse struct {
	Results []struct {
		Title         string   `json:"title"`
		URL           string   `json:"url"`
		PublishedDate string   `json:"publishedDate"`
		Highlights    []string `json:"highlights"`
	} `json:"results"`
}

// Search returns up to NumResults sources for query.
func (c *Client) Search(ctx context.Context, query string) ([]Source, error) {
	body, err := json.Marshal(searchRequest{
		Query:         query,
		Type:          "auto",
		UseAutoprompt: true,
		NumResults:    c.n,
		Contents:      searchContents{Highlights: true},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.key)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("search: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var sr searchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("search: decode: %w", err)
	}

	out := make([]Source, 0, len(sr.Results))
	for _, r := range sr.Results {
		s := Source{Title: strings.TrimSpace(r.Title), URL: r.URL, Date: r.PublishedDate}
		if s.Title == "" {
			s.Title = untitled
		}
		if len(r.Highlights) > 0 {
			s.Highlight = strings.TrimSpace(r.Highlights[0])
		}
		out = append(out, s)
	}
	c.log.Debug("search done", logx.Int("results", len(out)), logx.Duration("took", time.Since(start)))
	return out, nil
}
