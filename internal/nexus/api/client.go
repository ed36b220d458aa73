// Package api is the outbound client of the remote directory ("nexus").
//
// Every call goes through the same error contract:
//   - transport failures and non-2xx responses are logged and returned as *Error
//   - a 2xx response whose body carries an "errors" member is logged and
//     treated as a success
//   - a 2xx response with a body that is not JSON is a failure
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Collections known to the remote directory.
const (
	Users       = "users"
	Structures  = "structures"
	Memberships = "memberships"
)

const (
	pathSyncStart      = "sync-start"
	pathSyncCompleted  = "sync-completed"
	pathDropdownStatus = "dropdown-status"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds the client settings.
type Config struct {
	// BaseURL is the API root, e.g. "https://nexus.example.org/api/".
	BaseURL string
	// Token is sent as "Authorization: Token <token>".
	Token string
	// Timeout bounds each call.
	Timeout time.Duration
}

// Marker is the opaque value returned by BeginFullSync and echoed unchanged
// to CompleteFullSync.
type Marker = json.RawMessage

// Client calls the remote directory. It holds no per-call state and is safe
// for concurrent use.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// New creates a Client. A nil logger selects the global zap logger.
func New(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.S()
	}

	return &Client{
		baseURL: u,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("nexus"),
	}, nil
}

// BeginFullSync opens a full-sync window and returns its marker.
func (c *Client) BeginFullSync(ctx context.Context) (Marker, error) {
	var resp struct {
		StartedAt Marker `json:"started_at"`
	}
	if err := c.call(ctx, "begin full sync", http.MethodPost, pathSyncStart, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.StartedAt) == 0 {
		return nil, &Error{
			Operation: "begin full sync",
			Method:    http.MethodPost,
			Path:      pathSyncStart,
			Err:       fmt.Errorf("response has no started_at"),
		}
	}
	return resp.StartedAt, nil
}

// CompleteFullSync closes the window opened with marker.
func (c *Client) CompleteFullSync(ctx context.Context, marker Marker) error {
	body := struct {
		StartedAt Marker `json:"started_at"`
	}{marker}
	return c.call(ctx, "complete full sync", http.MethodPost, pathSyncCompleted, body, nil)
}

// Push sends serialized records to collection.
func (c *Client) Push(ctx context.Context, collection string, records []any) error {
	if records == nil {
		records = []any{}
	}
	return c.call(ctx, "push "+collection, http.MethodPost, collection, records, nil)
}

type deleteItem struct {
	ID string `json:"id"`
}

// Delete removes identifiers from collection.
func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	items := make([]deleteItem, len(ids))
	for i, id := range ids {
		items[i] = deleteItem{ID: id}
	}
	return c.call(ctx, "delete "+collection, http.MethodDelete, collection, items, nil)
}

// SendUsers pushes serialized users.
func (c *Client) SendUsers(ctx context.Context, users []any) error {
	return c.Push(ctx, Users, users)
}

// DeleteUsers deletes users by identifier.
func (c *Client) DeleteUsers(ctx context.Context, ids []string) error {
	return c.Delete(ctx, Users, ids)
}

// SendStructures pushes serialized structures.
func (c *Client) SendStructures(ctx context.Context, structures []any) error {
	return c.Push(ctx, Structures, structures)
}

// DeleteStructures deletes structures by identifier.
func (c *Client) DeleteStructures(ctx context.Context, ids []string) error {
	return c.Delete(ctx, Structures, ids)
}

// SendMemberships pushes serialized memberships.
func (c *Client) SendMemberships(ctx context.Context, memberships []any) error {
	return c.Push(ctx, Memberships, memberships)
}

// DeleteMemberships deletes memberships by identifier.
func (c *Client) DeleteMemberships(ctx context.Context, ids []string) error {
	return c.Delete(ctx, Memberships, ids)
}

// DropdownStatus looks up the services menu state of a user by email.
func (c *Client) DropdownStatus(ctx context.Context, email string) (map[string]any, error) {
	var status map[string]any
	body := map[string]string{"email": email}
	if err := c.call(ctx, "dropdown status", http.MethodPost, pathDropdownStatus, body, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// call performs one request. body, when non-nil, is sent as JSON; out, when
// non-nil, receives the decoded response.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	fail := func(status int, payload any, err error) error {
		return &Error{Operation: op, Method: method, Path: path, StatusCode: status, Payload: payload, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fail(0, nil, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		return fail(0, nil, err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(op, outcomeTransport).Inc()
		c.logger.Errorw(fmt.Sprintf("nexus %s:%s failed", method, path), "error", err)
		return fail(0, nil, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(op, outcomeTransport).Inc()
		c.logger.Errorw(fmt.Sprintf("nexus %s:%s failed", method, path), "error", err)
		return fail(resp.StatusCode, nil, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestsTotal.WithLabelValues(op, outcomeRejected).Inc()
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		var payload any
		if err := json.Unmarshal(data, &payload); err == nil && payload != nil {
			c.logger.Errorw(fmt.Sprintf("nexus %s:%s failed", method, path), "status", resp.StatusCode, "error", payload)
		} else {
			c.logger.Errorw(fmt.Sprintf("nexus %s:%s failed", method, path), "status", resp.StatusCode, "error", statusErr)
		}
		return fail(resp.StatusCode, payload, statusErr)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		requestsTotal.WithLabelValues(op, outcomeOK).Inc()
		return nil
	}

	var envelope any
	if err := json.Unmarshal(data, &envelope); err != nil {
		requestsTotal.WithLabelValues(op, outcomeTransport).Inc()
		c.logger.Errorw(fmt.Sprintf("nexus %s:%s failed", method, path), "status", resp.StatusCode, "error", err)
		return fail(resp.StatusCode, nil, fmt.Errorf("decode response: %w", err))
	}

	outcome := outcomeOK
	if obj, ok := envelope.(map[string]any); ok && present(obj["errors"]) {
		outcome = outcomeSoftErrors
		c.logger.Errorw(fmt.Sprintf("nexus %s:%s returned errors", method, path), "errors", obj["errors"])
	}
	requestsTotal.WithLabelValues(op, outcome).Inc()

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fail(resp.StatusCode, nil, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// present reports whether a decoded JSON value carries anything: null, false,
// 0, "" and empty arrays or objects do not.
func present(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}
