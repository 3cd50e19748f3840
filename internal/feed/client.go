// Package feed is the HTTP client for the team-update backend's read API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"loopin/internal/notify"
	logx "loopin/pkg/logx"
)

const (
	pathRecentUpdates = "/api/recent-updates"
	pathLatestTime    = "/api/latest-update-time"
	pathCheckUpdate   = "/api/check-update/"

	maxErrorBody = 512
)

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        logx.Logger

	now func() time.Time
}

// Options configures New.
type Options struct {
	Timeout      time.Duration
	SessionToken string
	HTTPClient   *http.Client
	Log          logx.Logger
}

func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 8 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      opts.SessionToken,
		log:        log,
		now:        time.Now,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// ViewURL is the browser page for an update.
func (c *Client) ViewURL(id string) string {
	return c.baseURL + "/view/" + url.PathEscape(id)
}

// RecentUpdates returns updates newer than since (zero means the server
// default window). Items failing validation are skipped.
func (c *Client) RecentUpdates(ctx context.Context, since time.Time) ([]notify.Update, error) {
	path := pathRecentUpdates
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var resp recentUpdatesJSON
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("recent updates: %w", err)
	}
	// An empty reply may omit success.
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("recent updates: %w: %s", ErrUnsuccessful, resp.Error)
	}
	recv := c.now()
	out := make([]notify.Update, 0, len(resp.Updates))
	for _, raw := range resp.Updates {
		u, err := DecodeUpdate(raw, recv)
		if err != nil {
			c.log.Debug("skipping invalid update", logx.Err(err))
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// LatestUpdateTime returns the server latest-activity time; zero when the
// backend has no updates yet.
func (c *Client) LatestUpdateTime(ctx context.Context) (time.Time, error) {
	var resp latestJSON
	if err := c.getJSON(ctx, pathLatestTime, &resp); err != nil {
		return time.Time{}, fmt.Errorf("latest update time: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return time.Time{}, fmt.Errorf("latest update time: %w: %s", ErrUnsuccessful, resp.Error)
	}
	if resp.LatestTimestamp == nil || strings.TrimSpace(*resp.LatestTimestamp) == "" {
		return time.Time{}, nil
	}
	t, err := ParseTimestamp(*resp.LatestTimestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest update time: %w", err)
	}
	return t, nil
}

// CheckUpdate returns nil if the entity exists and ErrNotFound on 404.
func (c *Client) CheckUpdate(ctx context.Context, id string) error {
	err := c.getJSON(ctx, pathCheckUpdate+url.PathEscape(id), nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("check update %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check update %s: %w", id, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: c.token})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsuccessful) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
