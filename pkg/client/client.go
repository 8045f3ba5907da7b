// Package client is a Go client for the governor operator API. The CLI
// uses it so that every mutation goes through the running server, which
// owns the registry snapshot.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/policy/gitsource"
	"jobmail-hq/governor/pkg/signing"
)

// DefaultTimeout bounds each request. Approvals run the executor
// synchronously, so it exceeds the default executor timeout.
const DefaultTimeout = 2 * time.Minute

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Reason     string // import rejection reason
	RequestID  string
}

// Error returns the error message.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Reason != "" {
		return fmt.Sprintf("api error %d (%s, %s): %s", e.StatusCode, e.Code, e.Reason, msg)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, msg)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Actor   string // sent as X-Actor on mutations
	APIKey  string // sent as a bearer token on every request
	Timeout time.Duration
	Logger  *slog.Logger

	// TLS configures HTTPS, for example a private CA or a client
	// certificate. Nil uses the system roots.
	TLS *tls.Config
}

// Client calls the operator API.
type Client struct {
	base   *url.URL
	actor  string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

// New creates a client for the API at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if !strings.Contains(cfg.BaseURL, "://") {
		cfg.BaseURL = "http://" + cfg.BaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.TLS != nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = cfg.TLS
		hc.Transport = tr
	}
	return &Client{
		base:   base,
		actor:  cfg.Actor,
		apiKey: cfg.APIKey,
		http:   hc,
		logger: logger.With("component", "client"),
	}, nil
}

// request describes one API call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        any    // encoded as JSON
	raw         []byte // sent as-is when set
	contentType string
}

func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	u := *c.base
	u.Path += r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	contentType := r.contentType
	switch {
	case r.raw != nil:
		body = bytes.NewReader(r.raw)
	case r.body != nil:
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.method != http.MethodGet && c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.DebugContext(ctx, "sending request", "method", r.method, "url", u.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// call performs r and decodes a JSON response into out, if non-nil.
func (c *Client) call(ctx context.Context, r request, out any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Reason  string `json:"reason"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.Reason = body.Error.Reason
		apiErr.RequestID = body.RequestID
	} else {
		apiErr.Code = "http"
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// BundleList is the response of ListBundles.
type BundleList struct {
	Current string           `json:"current"`
	Bundles []*policy.Bundle `json:"bundles"`
}

// ListBundles returns every bundle and the active version.
func (c *Client) ListBundles(ctx context.Context) (*BundleList, error) {
	var out BundleList
	return &out, c.call(ctx, request{method: http.MethodGet, path: "/v1/bundles"}, &out)
}

// GetBundle returns one bundle.
func (c *Client) GetBundle(ctx context.Context, version string) (*policy.Bundle, error) {
	var out policy.Bundle
	return &out, c.call(ctx, request{method: http.MethodGet, path: "/v1/bundles/" + url.PathEscape(version)}, &out)
}

// CreateDraft creates a draft bundle. An empty version selects the next
// patch version.
func (c *Client) CreateDraft(ctx context.Context, doc *policy.Document, source string) (*policy.Bundle, error) {
	var out policy.Bundle
	body := map[string]any{"version": doc.Version, "policies": doc.Policies, "source": source}
	return &out, c.call(ctx, request{method: http.MethodPost, path: "/v1/bundles", body: body}, &out)
}

// Stage moves a bundle: stage is "canary", "promote" or "activate".
// expected is the caller's view of the active version.
func (c *Client) Stage(ctx context.Context, version, stage, expected string) (*policy.Bundle, error) {
	switch stage {
	case "canary", "promote", "activate":
	default:
		return nil, fmt.Errorf("unknown stage transition %q", stage)
	}
	var out policy.Bundle
	body := map[string]string{"expected_version": expected}
	return &out, c.call(ctx, request{
		method: http.MethodPost,
		path:   "/v1/bundles/" + url.PathEscape(version) + "/" + stage,
		body:   body,
	}, &out)
}

// RollbackResult is the response of Rollback.
type RollbackResult struct {
	RolledBack *policy.Bundle `json:"rolled_back"`
	Restored   *policy.Bundle `json:"restored,omitempty"`
}

// Rollback archives a live bundle.
func (c *Client) Rollback(ctx context.Context, version, expected, reason string) (*RollbackResult, error) {
	var out RollbackResult
	body := map[string]string{"expected_version": expected, "reason": reason}
	return &out, c.call(ctx, request{
		method: http.MethodPost,
		path:   "/v1/bundles/" + url.PathEscape(version) + "/rollback",
		body:   body,
	}, &out)
}

// Export returns a signed export of a bundle.
func (c *Client) Export(ctx context.Context, version string, enc signing.Encoding) ([]byte, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/v1/bundles/" + url.PathEscape(version) + "/export",
		query:  url.Values{"encoding": {string(enc)}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Import uploads a signed export. The bundle lands as a draft.
func (c *Client) Import(ctx context.Context, data []byte, asNewVersion bool) (*policy.Bundle, error) {
	var out policy.Bundle
	contentType := signing.EncodingJSON.ContentType()
	if len(data) > 0 && data[0] != '{' {
		contentType = signing.EncodingCBOR.ContentType()
	}
	return &out, c.call(ctx, request{
		method:      http.MethodPost,
		path:        "/v1/bundles/import",
		query:       url.Values{"as_new_version": {strconv.FormatBool(asNewVersion)}},
		raw:         data,
		contentType: contentType,
	}, &out)
}

// SyncGit creates a draft from the head of the configured git branch.
func (c *Client) SyncGit(ctx context.Context) (*gitsource.SyncResult, error) {
	var out gitsource.SyncResult
	return &out, c.call(ctx, request{method: http.MethodPost, path: "/v1/bundles/sync"}, &out)
}

// Test dry-runs a bundle against contexts.
func (c *Client) Test(ctx context.Context, version string, contexts []engine.Context) ([]actions.TestResult, error) {
	var out struct {
		Results []actions.TestResult `json:"results"`
	}
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/v1/bundles/" + url.PathEscape(version) + "/test",
		body:   map[string]any{"contexts": contexts},
	}, &out)
	return out.Results, err
}

// ProposeRequest selects resources by explicit list or by query.
type ProposeRequest struct {
	Resources []actions.Resource `json:"resources,omitempty"`
	Query     string             `json:"query,omitempty"`
	Bundle    string             `json:"bundle,omitempty"`
}

// Propose evaluates resources and creates pending actions.
func (c *Client) Propose(ctx context.Context, req ProposeRequest) (*actions.ProposeResult, error) {
	var out actions.ProposeResult
	return &out, c.call(ctx, request{method: http.MethodPost, path: "/v1/actions/propose", body: req}, &out)
}

// ActionList is the response of ListActions.
type ActionList struct {
	Actions []*actions.ProposedAction `json:"actions"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

// ListActions lists proposed actions, optionally by status.
func (c *Client) ListActions(ctx context.Context, status actions.Status, limit, offset int) (*ActionList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out ActionList
	return &out, c.call(ctx, request{method: http.MethodGet, path: "/v1/actions", query: q}, &out)
}

// GetAction returns one proposed action.
func (c *Client) GetAction(ctx context.Context, id string) (*actions.ProposedAction, error) {
	var out actions.ProposedAction
	return &out, c.call(ctx, request{method: http.MethodGet, path: "/v1/actions/" + url.PathEscape(id)}, &out)
}

// Approve approves and executes a pending action.
func (c *Client) Approve(ctx context.Context, id string) (*actions.ExecutionResult, error) {
	var out actions.ExecutionResult
	return &out, c.call(ctx, request{method: http.MethodPost, path: "/v1/actions/" + url.PathEscape(id) + "/approve"}, &out)
}

// Reject rejects a pending action.
func (c *Client) Reject(ctx context.Context, id, reason string) (*actions.ProposedAction, error) {
	var out actions.ProposedAction
	return &out, c.call(ctx, request{
		method: http.MethodPost,
		path:   "/v1/actions/" + url.PathEscape(id) + "/reject",
		body:   map[string]string{"reason": reason},
	}, &out)
}

// AuditPage is one page of audit records.
type AuditPage struct {
	Records []*evidence.AuditRecord `json:"records"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// Audit queries the audit trail.
func (c *Client) Audit(ctx context.Context, q *evidence.Query) (*AuditPage, error) {
	var out AuditPage
	return &out, c.call(ctx, request{method: http.MethodGet, path: "/v1/audit", query: auditValues(q)}, &out)
}

// AuditCSV writes the matching audit records to w as CSV.
func (c *Client) AuditCSV(ctx context.Context, q *evidence.Query, w io.Writer) error {
	v := auditValues(q)
	v.Set("format", "csv")
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/audit", query: v})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// Correct appends a correction superseding the audit record id.
func (c *Client) Correct(ctx context.Context, id, reason string) (*evidence.AuditRecord, error) {
	var out evidence.AuditRecord
	return &out, c.call(ctx, request{
		method: http.MethodPost,
		path:   "/v1/audit/" + url.PathEscape(id) + "/correct",
		body:   map[string]string{"reason": reason},
	}, &out)
}

func auditValues(q *evidence.Query) url.Values {
	v := url.Values{}
	if q == nil {
		return v
	}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("actor", q.Actor)
	set("action_id", q.ActionID)
	set("bundle_version", q.BundleVersion)
	set("event", string(q.Event))
	set("outcome", string(q.Outcome))
	set("order", q.SortOrder)
	if q.StartTime != nil {
		v.Set("since", q.StartTime.Format(time.RFC3339))
	}
	if q.EndTime != nil {
		v.Set("until", q.EndTime.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}
