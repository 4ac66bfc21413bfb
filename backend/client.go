package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/datacache/auth"
	"github.com/jonwraymond/datacache/observe"
	"github.com/jonwraymond/datacache/resilience"
)

const (
	defaultBucket  = "files"
	defaultSignTTL = time.Hour
	defaultTimeout = 30 * time.Second

	// pgrstNoRows is the PostgREST code for "requested a single
	// object, got zero rows".
	pgrstNoRows = "PGRST116"

	acceptSingle = "application/vnd.pgrst.object+json"
)

// Client implements Persistence and ObjectStorage against a
// PostgREST/Supabase-style API.
type Client struct {
	baseURL string
	apiKey  string
	bucket  string
	signTTL time.Duration
	tokens  auth.TokenProvider
	http    *http.Client
	log     observe.Logger
	nowFn   func() time.Time
}

// NewClient creates a backend client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: resilience.NewTransportWithDefaults(),
		}
	}
	tokens := cfg.TokenProvider
	if tokens == nil {
		tokens = auth.StaticToken(cfg.APIKey)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	signTTL := cfg.SignTTL
	if signTTL == 0 {
		signTTL = defaultSignTTL
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		bucket:  bucket,
		signTTL: signTTL,
		tokens:  tokens,
		http:    httpClient,
		log:     logger.WithComponent("backend"),
		nowFn:   time.Now,
	}, nil
}

// GetByID fetches a single row by primary key.
func (c *Client) GetByID(ctx context.Context, table, id string) (Record, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("id", "eq."+id)

	req, err := c.newRequest(ctx, http.MethodGet, c.restURL(table, params), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptSingle)

	var rec Record
	if err := c.do(req, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Query fetches every row matching the given column equalities.
func (c *Client) Query(ctx context.Context, table string, match Record, opts QueryOptions) ([]Record, error) {
	params := url.Values{}
	params.Set("select", "*")
	for _, col := range sortedKeys(match) {
		params.Set(col, fmt.Sprintf("eq.%v", match[col]))
	}
	if opts.OrderBy != "" {
		dir := "asc"
		if opts.Descending {
			dir = "desc"
		}
		params.Set("order", opts.OrderBy+"."+dir)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.restURL(table, params), nil)
	if err != nil {
		return nil, err
	}

	var recs []Record
	if err := c.do(req, &recs); err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// Insert creates a row and returns it as stored.
func (c *Client) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.restURL(table, nil), rec)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptSingle)
	req.Header.Set("Prefer", "return=representation")

	var stored Record
	if err := c.do(req, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Update patches a row by primary key and returns the updated row.
func (c *Client) Update(ctx context.Context, table, id string, partial Record) (Record, error) {
	params := url.Values{}
	params.Set("id", "eq."+id)

	req, err := c.newRequest(ctx, http.MethodPatch, c.restURL(table, params), partial)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptSingle)
	req.Header.Set("Prefer", "return=representation")

	var updated Record
	if err := c.do(req, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a row by primary key and returns the deleted row.
func (c *Client) Delete(ctx context.Context, table, id string) (Record, error) {
	params := url.Values{}
	params.Set("id", "eq."+id)

	req, err := c.newRequest(ctx, http.MethodDelete, c.restURL(table, params), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptSingle)
	req.Header.Set("Prefer", "return=representation")

	var deleted Record
	if err := c.do(req, &deleted); err != nil {
		return nil, err
	}
	return deleted, nil
}

// signResponse is the storage sign endpoint's reply.
type signResponse struct {
	SignedURL string `json:"signedURL"`
}

// ResolveSignedURL mints a time-limited URL for a storage object.
func (c *Client) ResolveSignedURL(ctx context.Context, path string) (SignedURL, error) {
	signURL := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s",
		c.baseURL, c.bucket, strings.TrimPrefix(path, "/"))

	req, err := c.newRequest(ctx, http.MethodPost, signURL, map[string]any{
		"expiresIn": int(c.signTTL.Seconds()),
	})
	if err != nil {
		return SignedURL{}, err
	}

	issued := c.nowFn()
	var resp signResponse
	if err := c.do(req, &resp); err != nil {
		return SignedURL{}, err
	}
	return SignedURL{
		URL:       c.baseURL + "/storage/v1" + resp.SignedURL,
		ExpiresAt: issued.Add(c.signTTL),
	}, nil
}

func (c *Client) restURL(table string, params url.Values) string {
	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, reqURL string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend: token: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes the request and decodes a 2xx body into out (skipped
// when out is nil or the body is empty).
func (c *Client) do(req *http.Request, out any) error {
	start := c.nowFn()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn(req.Context(), "backend request failed",
			observe.Field{Key: "method", Value: req.Method},
			observe.Field{Key: "url", Value: req.URL.Path},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	c.log.Debug(req.Context(), "backend request",
		observe.Field{Key: "method", Value: req.Method},
		observe.Field{Key: "url", Value: req.URL.Path},
		observe.Field{Key: "status", Value: resp.StatusCode},
		observe.Field{Key: "duration_ms", Value: c.nowFn().Sub(start).Milliseconds()},
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapError(req, resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

// pgrstError is PostgREST's error body.
type pgrstError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (c *Client) mapError(req *http.Request, status int, body []byte) error {
	var perr pgrstError
	_ = json.Unmarshal(body, &perr)

	switch {
	case perr.Code == pgrstNoRows:
		return ErrNotFound
	case status == http.StatusNotFound, status == http.StatusNotAcceptable:
		if strings.Contains(req.URL.Path, "/storage/") {
			return ErrObjectNotFound
		}
		return ErrNotFound
	case status >= 500, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, perr.Message)
	default:
		return fmt.Errorf("backend: status %d: %s", status, firstNonEmpty(perr.Message, string(body)))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Persistence   = (*Client)(nil)
	_ ObjectStorage = (*Client)(nil)
)
