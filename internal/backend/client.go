package backend

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

	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrRejected      = errors.New("request rejected by backend")
	ErrOrderRejected = errors.New("order rejected by backend")
	ErrNotFound      = errors.New("resource not found")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// envelope is the backend's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *circuitbreaker.Breaker
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

// IsServerFailure reports whether err says the backend itself is unhealthy.
// Rejections, 4xx answers and caller cancellation do not count.
func IsServerFailure(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		settings := circuitbreaker.DefaultSettings("backend-api")
		settings.IsFailure = IsServerFailure
		c.breaker = circuitbreaker.New(settings)
	}
	return c
}

// CreateOrder posts an order. A success:false answer or a 4xx status yields an
// error wrapping ErrOrderRejected with the backend's message.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	headers := http.Header{}
	if req.IdempotencyKey != "" {
		headers.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var order domain.Order
	err = c.do(ctx, http.MethodPost, "/api/orders", bytes.NewReader(body), headers, &order)
	if err != nil {
		var apiErr *APIError
		if errors.Is(err, ErrRejected) || (errors.As(err, &apiErr) && apiErr.StatusCode < 500) {
			return nil, fmt.Errorf("%w: %w", ErrOrderRejected, err)
		}
		return nil, err
	}
	return &order, nil
}

func (c *Client) GetVendorByID(ctx context.Context, vendorID string) (*domain.Vendor, error) {
	var vendor domain.Vendor
	path := "/api/vendors/" + url.PathEscape(vendorID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &vendor); err != nil {
		return nil, fmt.Errorf("failed to get vendor %s: %w", vendorID, err)
	}
	return &vendor, nil
}

func (c *Client) GetTableByNumber(ctx context.Context, vendorID, tableNumber string) (*domain.Table, error) {
	var table domain.Table
	path := "/api/tables/number/" + url.PathEscape(tableNumber) + "?vendorId=" + url.QueryEscape(vendorID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &table); err != nil {
		return nil, fmt.Errorf("failed to get table %s: %w", tableNumber, err)
	}
	if table.Number == "" {
		table.Number = tableNumber
	}
	return &table, nil
}

// CurrentUser resolves a bearer token to its user.
func (c *Client) CurrentUser(ctx context.Context, token string) (*domain.User, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	var user domain.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, headers, &user); err != nil {
		return nil, fmt.Errorf("failed to resolve current user: %w", err)
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header, out any) error {
	return c.breaker.Execute(func() error {
		return c.roundTrip(ctx, method, path, body, headers, out)
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body io.Reader, headers http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, env.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
