// Package remote implements the sync transport over JSON/HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xelth-com/taskchat-sync/internal/sync"
)

// IdempotencyHeader carries the client generated token of a create
const IdempotencyHeader = "Idempotency-Key"

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 1 << 10

// TokenSource returns the bearer token for the next request; an empty token
// sends no Authorization header
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// BaseURLFunc returns the base URL of the remote store for the next request
type BaseURLFunc func() (string, error)

// StaticBaseURL always returns u
func StaticBaseURL(u string) BaseURLFunc {
	return func() (string, error) { return u, nil }
}

// NewTransport creates the HTTP client used for sync calls. Per-call
// deadlines come from the caller's context.
func NewTransport() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// CreateResponse is the body of a successful create
type CreateResponse struct {
	ServerID string `json:"server_id"`
}

// ListResponse is the body of a list-since call
type ListResponse[P any] struct {
	Entities   []sync.RemoteEntity[P] `json:"entities"`
	NextCursor *time.Time             `json:"next_cursor,omitempty"`
}

// HTTPClient is a sync.RemoteClient talking to /api/sync/{entity}/{scope}
type HTTPClient[P any] struct {
	baseURL BaseURLFunc
	tokens  TokenSource
	http    *http.Client
}

var _ sync.RemoteClient[struct{}] = (*HTTPClient[struct{}])(nil)

// NewHTTPClient creates a remote client. hc may be nil.
func NewHTTPClient[P any](baseURL BaseURLFunc, tokens TokenSource, hc *http.Client) *HTTPClient[P] {
	if hc == nil {
		hc = NewTransport()
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &HTTPClient[P]{baseURL: baseURL, tokens: tokens, http: hc}
}

func (c *HTTPClient[P]) Create(ctx context.Context, scope sync.Scope, idempotencyKey string, payload P) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &sync.RejectionError{Message: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	var out CreateResponse
	err = c.do(ctx, http.MethodPost, scope, "", nil, body, func(h http.Header) {
		h.Set(IdempotencyHeader, idempotencyKey)
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ServerID, nil
}

func (c *HTTPClient[P]) Update(ctx context.Context, scope sync.Scope, serverID string, payload P) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &sync.RejectionError{Message: fmt.Sprintf("failed to encode payload: %v", err)}
	}
	return c.do(ctx, http.MethodPut, scope, serverID, nil, body, nil, nil)
}

func (c *HTTPClient[P]) Delete(ctx context.Context, scope sync.Scope, serverID string) error {
	err := c.do(ctx, http.MethodDelete, scope, serverID, nil, nil, nil, nil)
	var st *statusError
	if errors.As(err, &st) && st.code == http.StatusNotFound {
		return nil // already gone
	}
	return err
}

func (c *HTTPClient[P]) ListSince(ctx context.Context, scope sync.Scope, since sync.Cursor) (sync.Page[P], error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.LastPullTimestamp.UTC().Format(time.RFC3339Nano))
	}

	var out ListResponse[P]
	if err := c.do(ctx, http.MethodGet, scope, "", q, nil, nil, &out); err != nil {
		return sync.Page[P]{}, err
	}
	page := sync.Page[P]{Entities: out.Entities}
	if out.NextCursor != nil {
		page.Next = sync.Cursor{LastPullTimestamp: out.NextCursor.UTC()}
	}
	return page, nil
}

// EntityPath returns the collection path of scope, or the item path when
// serverID is set
func EntityPath(scope sync.Scope, serverID string) string {
	p := "/api/sync/" + url.PathEscape(string(scope.Entity)) + "/" + url.PathEscape(scope.Key)
	if serverID != "" {
		p += "/" + url.PathEscape(serverID)
	}
	return p
}

func (c *HTTPClient[P]) do(ctx context.Context, method string, scope sync.Scope, serverID string, query url.Values, body []byte, header func(http.Header), out interface{}) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}
	target := strings.TrimRight(base, "/") + EntityPath(scope, serverID)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if header != nil {
		header(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(method, target, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, target, err)
	}
	return nil
}

// statusError is a transient HTTP failure
type statusError struct {
	method, target string
	code           int
	msg            string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.method, e.target, e.code, e.msg)
}

// classify turns a non-2xx response into an error. Client errors are
// rejections except the ones that ask to retry later.
func classify(method, target string, code int, msg string) error {
	switch {
	case code == http.StatusNotFound && method == http.MethodDelete:
		return &statusError{method: method, target: target, code: code, msg: msg}
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return &statusError{method: method, target: target, code: code, msg: msg}
	case code >= 400 && code < 500:
		if msg == "" {
			msg = http.StatusText(code)
		}
		return &sync.RejectionError{StatusCode: code, Message: msg}
	default:
		return &statusError{method: method, target: target, code: code, msg: msg}
	}
}
