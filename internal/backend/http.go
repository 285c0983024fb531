package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxResponseBytes = 1 << 20

// HTTPClient implements Client against the JSON HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// NewHTTPClient creates a client for the server at baseURL. An empty apiKey
// sends no Authorization header.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateIncident posts a new incident.
func (h *HTTPClient) CreateIncident(ctx context.Context, req IncidentRequest) (Created, error) {
	var out Created
	err := h.do(ctx, http.MethodPost, "/api/incidents", req, &out)
	return out, err
}

// CreateShift posts a new shift.
func (h *HTTPClient) CreateShift(ctx context.Context, req ShiftRequest) (Created, error) {
	var out Created
	err := h.do(ctx, http.MethodPost, "/api/shifts", req, &out)
	return out, err
}

// UpdateShift replaces the shift with the given server id.
func (h *HTTPClient) UpdateShift(ctx context.Context, id string, req ShiftRequest) error {
	return h.do(ctx, http.MethodPut, "/api/shifts/"+url.PathEscape(id), req, nil)
}

// CreateScheduledEvent posts a new blitz.
func (h *HTTPClient) CreateScheduledEvent(ctx context.Context, req ScheduledEventRequest) (Created, error) {
	var out Created
	err := h.do(ctx, http.MethodPost, "/api/blitz", req, &out)
	return out, err
}

// LogAuditEvent records an audit event. The server answers 202.
func (h *HTTPClient) LogAuditEvent(ctx context.Context, rec AuditRecord) error {
	return h.do(ctx, http.MethodPost, "/api/audit", rec, nil)
}

// Health checks that the server is reachable and healthy.
func (h *HTTPClient) Health(ctx context.Context) error {
	return h.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (h *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if h.baseURL == "" {
		return ErrNotConfigured
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(method, path, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func newStatusError(method, path string, status int, body []byte) *StatusError {
	e := &StatusError{Method: method, Path: path, StatusCode: status}
	var p Problem
	if len(body) > 0 && json.Unmarshal(body, &p) == nil && (p.Title != "" || p.Detail != "") {
		e.Problem = &p
	}
	return e
}
