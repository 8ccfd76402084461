package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aurora-dashboard/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL = "https://api.vapi.ai"

	defaultPageLimit   = 100
	defaultMaxPages    = 1000
	defaultMaxRecords  = 50000
	defaultConcurrency = 4
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger

	// Safety caps applied per paginated listing.
	MaxPages   int
	MaxRecords int
	// Concurrency bounds how many assistants are listed at once.
	Concurrency int
}

// Client talks to the voice platform REST API. It keeps no session state:
// the API key is supplied on every call.
type Client struct {
	baseURL     string
	http        *http.Client
	log         *slog.Logger
	maxPages    int
	maxRecords  int
	concurrency int
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		log:         logger.OrDefault(opts.Logger),
		maxPages:    opts.MaxPages,
		maxRecords:  opts.MaxRecords,
		concurrency: opts.Concurrency,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	if c.maxRecords <= 0 {
		c.maxRecords = defaultMaxRecords
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	return c
}

// ListCalls returns calls for the given assistants, or all calls when assistantIDs is empty.
// Each assistant is paginated separately; the union is de-duplicated by call id.
func (c *Client) ListCalls(ctx context.Context, apiKey string, assistantIDs []string, opts ListOptions) ([]Call, error) {
	ids := make([]string, 0, len(assistantIDs))
	for _, id := range assistantIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return c.listPaged(ctx, apiKey, "", opts)
	}

	perAssistant := make([][]Call, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			calls, err := c.listPaged(gctx, apiKey, id, opts)
			if err != nil {
				return fmt.Errorf("list calls for assistant %s: %w", id, err)
			}
			perAssistant[i] = calls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []Call
	for _, calls := range perAssistant {
		for _, call := range calls {
			if _, dup := seen[call.ID]; dup {
				continue
			}
			seen[call.ID] = struct{}{}
			out = append(out, call)
		}
	}
	return out, nil
}

// listPaged walks backwards in time using the oldest createdAt of each page as the cursor.
func (c *Client) listPaged(ctx context.Context, apiKey, assistantID string, opts ListOptions) ([]Call, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	maxPages := c.maxPages
	if opts.MaxPages > 0 {
		maxPages = min(opts.MaxPages, c.maxPages)
	}
	log := c.log.With("assistant_id", assistantID)

	cursor := opts.CreatedBefore
	var out []Call
	for page := 0; page < maxPages; page++ {
		batch, err := c.fetchPage(ctx, apiKey, assistantID, limit, opts.CreatedAfter, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)

		if len(batch) < limit {
			return out, nil
		}
		if len(out) >= c.maxRecords {
			log.Warn("call listing hit record cap", "records", len(out), "cap", c.maxRecords)
			return out[:c.maxRecords], nil
		}

		oldest := oldestCreatedAt(batch)
		if oldest == nil {
			log.Warn("call page carries no createdAt; stopping pagination", "page", page)
			return out, nil
		}
		if cursor != nil && !oldest.Before(*cursor) {
			log.Warn("pagination cursor did not advance; stopping", "page", page, "cursor", cursor.Format(time.RFC3339Nano))
			return out, nil
		}
		cursor = oldest
	}
	if opts.MaxPages <= 0 {
		log.Warn("call listing hit page cap", "pages", maxPages, "records", len(out))
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, apiKey, assistantID string, limit int, after, before *time.Time) ([]Call, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if assistantID != "" {
		q.Set("assistantId", assistantID)
	}
	if after != nil {
		q.Set("createdAtGt", after.UTC().Format(time.RFC3339Nano))
	}
	if before != nil {
		q.Set("createdAtLt", before.UTC().Format(time.RFC3339Nano))
	}

	body, err := c.get(ctx, apiKey, "/call", q)
	if err != nil {
		return nil, err
	}
	return decodeList[Call](body)
}

// GetCall fetches a single call.
func (c *Client) GetCall(ctx context.Context, apiKey, callID string) (Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Call{}, fmt.Errorf("%w: call id is required", ErrInvalidArgument)
	}
	body, err := c.get(ctx, apiKey, "/call/"+url.PathEscape(callID), nil)
	if err != nil {
		return Call{}, err
	}
	var call Call
	if err := json.Unmarshal(body, &call); err != nil {
		return Call{}, fmt.Errorf("vapi: decode call: %w", err)
	}
	return call, nil
}

// GetAssistant fetches one assistant. An empty id is rejected without a request.
func (c *Client) GetAssistant(ctx context.Context, apiKey, assistantID string) (Assistant, error) {
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return Assistant{}, fmt.Errorf("%w: assistant id is required", ErrInvalidArgument)
	}
	body, err := c.get(ctx, apiKey, "/assistant/"+url.PathEscape(assistantID), nil)
	if err != nil {
		return Assistant{}, err
	}
	var a Assistant
	if err := json.Unmarshal(body, &a); err != nil {
		return Assistant{}, fmt.Errorf("vapi: decode assistant: %w", err)
	}
	return a, nil
}

func (c *Client) ListAssistants(ctx context.Context, apiKey string) ([]Assistant, error) {
	body, err := c.get(ctx, apiKey, "/assistant", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Assistant](body)
}

func (c *Client) get(ctx context.Context, apiKey, path string, q url.Values) ([]byte, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrAuth)
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("vapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrNetwork, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// decodeList accepts either a bare JSON array or an object with a results field.
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("vapi: decode list: %w", err)
		}
		return items, nil
	}
	var wrapped struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("vapi: decode list: %w", err)
	}
	return wrapped.Results, nil
}

func oldestCreatedAt(calls []Call) *time.Time {
	var oldest *time.Time
	for i := range calls {
		ts := calls[i].CreatedAt
		if ts == nil {
			continue
		}
		if oldest == nil || ts.Before(*oldest) {
			oldest = ts
		}
	}
	return oldest
}
