// Package gateway is the single path from this program to the ledger API.
//
// Do attaches credentials according to the collection's Placement, encodes
// JSON bodies, and turns error responses into *APIError. The caller always
// passes the Principal; the client keeps no session of its own.
package gateway

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

	"ledger/internal/log"
	"ledger/internal/session"
)

const maxResponseBytes = 4 << 20

// Observer receives one call per completed request. status is 0 when no
// response arrived.
type Observer interface {
	ObserveRequest(collection, method string, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, int, time.Duration) {}

type Client struct {
	baseURL    *url.URL
	http       *http.Client
	placements map[Collection]Placement
	logger     *log.Logger
	observer   Observer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(log.ComponentGateway) }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithPlacement overrides or adds the contract of one collection.
func WithPlacement(col Collection, p Placement) Option {
	return func(c *Client) { c.placements[col] = p }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	c := &Client{
		baseURL:    u,
		http:       &http.Client{Timeout: 15 * time.Second},
		placements: clonePlacements(DefaultPlacements),
		logger:     log.Discard(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request describes one call. Path is relative to the base URL and starts
// with the collection, e.g. "/debts/3".
type Request struct {
	Collection Collection
	Method     string
	Path       string
	Query      url.Values
	Body       any
}

// Do performs req on behalf of p and decodes the response into out. out may
// be nil, a *string for text responses, or anything json can decode into.
func (c *Client) Do(ctx context.Context, p session.Principal, req Request, out any) error {
	placement, ok := c.placements[req.Collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, req.Collection)
	}
	if placement.APIKey && !p.Valid() {
		return ErrUnauthenticated
	}

	httpReq, err := c.build(ctx, p, placement, req)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observer.ObserveRequest(string(req.Collection), req.Method, 0, time.Since(start))
		c.logger.WarnContext(ctx, "Ledger API request failed",
			log.FieldCollection, req.Collection,
			log.FieldMethod, req.Method,
			log.FieldPath, req.Path,
			log.FieldError, err,
		)
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()
	c.observer.ObserveRequest(string(req.Collection), req.Method, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", req.Method, req.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Status:     resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
			Collection: req.Collection,
			Method:     req.Method,
			Path:       req.Path,
		}
		c.logger.InfoContext(ctx, "Ledger API returned an error",
			log.FieldCollection, req.Collection,
			log.FieldMethod, req.Method,
			log.FieldPath, req.Path,
			log.FieldStatusCode, resp.StatusCode,
			log.FieldError, apiErr.Message,
		)
		return apiErr
	}

	c.logger.DebugContext(ctx, "Ledger API request completed",
		log.FieldCollection, req.Collection,
		log.FieldMethod, req.Method,
		log.FieldPath, req.Path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds(),
	)
	return decode(body, out)
}

func (c *Client) build(ctx context.Context, p session.Principal, placement Placement, req Request) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(req.Path, "/")

	q := url.Values{}
	for k, vs := range req.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if placement.Email == EmailQuery {
		q.Set(QueryUserEmail, p.Email)
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", req.Method, req.Path, err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if placement.APIKey {
		httpReq.Header.Set(HeaderAPIKey, p.APIKey)
	}
	if placement.Email == EmailHeader {
		httpReq.Header.Set(HeaderUserEmail, p.Email)
	}
	return httpReq, nil
}

func decode(body []byte, out any) error {
	switch v := out.(type) {
	case nil:
		return nil
	case *string:
		*v = strings.TrimSpace(string(body))
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// idQuery builds the optional ?accountId= style parameters; nil ids are left
// out entirely.
func idQuery(pairs ...any) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case *int64:
			if v != nil {
				q.Set(key, strconv.FormatInt(*v, 10))
			}
		case bool:
			q.Set(key, strconv.FormatBool(v))
		case string:
			if v != "" {
				q.Set(key, v)
			}
		}
	}
	return q
}

func itemPath(col Collection, id int64) string {
	return "/" + string(col) + "/" + strconv.FormatInt(id, 10)
}
