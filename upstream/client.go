// Package upstream talks to the legacy results service that owns batches,
// students and tests.
package upstream

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

	"go.uber.org/zap"

	"crt-reports-server/models"
)

const maxBodyBytes = 32 << 20

// Outcome tells a legitimately decoded body apart from one that was replaced
// by an empty result.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeEmpty     Outcome = "empty"
	OutcomeMalformed Outcome = "malformed"
)

var emptyArray = json.RawMessage("[]")

// Result is a successful upstream response.
type Result struct {
	Body    json.RawMessage
	Outcome Outcome
}

// JSON returns the body to relay: the upstream JSON, or [] when the body was
// blank or not JSON.
func (r Result) JSON() json.RawMessage {
	if r.Outcome != OutcomeOK {
		return emptyArray
	}
	return r.Body
}

// Elements splits an array body. ok is false when the body is not an array.
func (r Result) Elements() ([]json.RawMessage, bool) {
	body := bytes.TrimSpace(r.JSON())
	if len(body) == 0 || body[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, false
	}
	return items, true
}

// DecodeRows decodes an array body into rows of T. ok is false when the body is
// not an array of T.
func DecodeRows[T any](r Result) ([]T, bool) {
	body := bytes.TrimSpace(r.JSON())
	if len(body) == 0 || body[0] != '[' {
		return nil, false
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// StatusError is returned when the legacy service answers with a non-2xx status.
type StatusError struct {
	Resource Resource
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d", e.Resource, e.Status)
}

// ErrInvalidCredentials is returned by Authenticate when the login does not match.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Client fetches from the legacy service. It never caches and never retries.
type Client struct {
	baseURL   string
	endpoints map[Resource]string
	http      *http.Client
	log       *zap.Logger
}

// NewClient creates a client. overrides replaces entries of DefaultEndpoints by
// resource name.
func NewClient(baseURL string, timeout time.Duration, overrides map[string]string, log *zap.Logger) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	endpoints := make(map[Resource]string, len(DefaultEndpoints))
	for res, path := range DefaultEndpoints {
		endpoints[res] = path
	}
	for name, path := range overrides {
		endpoints[Resource(name)] = path
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:   baseURL,
		endpoints: endpoints,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

// URL builds the legacy URL for a resource with every parameter percent-encoded.
func (c *Client) URL(res Resource, params url.Values) (string, error) {
	path, ok := c.endpoints[res]
	if !ok {
		return "", fmt.Errorf("unknown upstream resource %q", res)
	}
	u := c.baseURL + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		u += "?" + strings.ReplaceAll(params.Encode(), "+", "%20")
	}
	return u, nil
}

// Fetch issues an uncached GET. Transport failures and non-2xx statuses are
// errors; a blank or non-JSON 2xx body is an empty Result.
func (c *Client) Fetch(ctx context.Context, res Resource, params url.Values) (Result, error) {
	u, err := c.URL(res, params)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build %s request: %w", res, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("upstream request failed", zap.String("resource", string(res)), zap.Error(err))
		return Result{}, fmt.Errorf("fetch %s: %w", res, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read %s response: %w", res, err)
	}
	c.log.Debug("upstream response",
		zap.String("resource", string(res)),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &StatusError{Resource: res, Status: resp.StatusCode, Body: string(body)}
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Result{Body: emptyArray, Outcome: OutcomeEmpty}, nil
	}
	if !json.Valid(body) {
		c.log.Warn("upstream returned invalid JSON", zap.String("resource", string(res)), zap.Int("bytes", len(body)))
		return Result{Body: emptyArray, Outcome: OutcomeMalformed}, nil
	}
	return Result{Body: body, Outcome: OutcomeOK}, nil
}

// Account is a verified login.
type Account struct {
	Record models.LoginRecord
	// Payload is the upstream login row without its Password column.
	Payload json.RawMessage
}

// Authenticate checks credentials against the legacy login endpoint. The first
// returned row must echo both the username and the password exactly.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	res, err := c.Fetch(ctx, Login, url.Values{"username": {username}, "pwd": {password}})
	if err != nil {
		return nil, err
	}
	rows, ok := res.Elements()
	if !ok || len(rows) == 0 {
		return nil, ErrInvalidCredentials
	}
	var rec models.LoginRecord
	if err := json.Unmarshal(rows[0], &rec); err != nil {
		return nil, ErrInvalidCredentials
	}
	if string(rec.Username) != username || string(rec.Password) != password {
		return nil, ErrInvalidCredentials
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rows[0], &fields); err != nil {
		return nil, ErrInvalidCredentials
	}
	delete(fields, "Password")
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode login payload: %w", err)
	}
	return &Account{Record: rec, Payload: payload}, nil
}
