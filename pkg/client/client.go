// Package client is a typed HTTP client for the carline API.
package client

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

	"github.com/google/uuid"

	"github.com/angelmondragon/carline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carline-backend/pkg/errors"
	"github.com/angelmondragon/carline-backend/pkg/types"
)

const (
	// RoleHeader carries the operator station; it is logged, never enforced.
	RoleHeader = "X-Carline-Role"
	// IdempotencyHeader lets retried writes replay the first response.
	IdempotencyHeader = "Idempotency-Key"

	// CarStatusStreamPath is the websocket subscription endpoint.
	CarStatusStreamPath = "/ws/car-status"

	errorBodyReadLimit int64 = 4096
)

// Client calls the carline HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	role       enums.OperatorRole
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRole tags every request with the operator station.
func WithRole(role enums.OperatorRole) Option {
	return func(c *Client) {
		c.role = role
	}
}

// New builds a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", parsed.Scheme)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    parsed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// StreamURL returns the websocket URL of the car status stream.
func (c *Client) StreamURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + CarStatusStreamPath
	return u.String()
}

// ListCars returns cars in the given stages, or every car when none are given.
func (c *Client) ListCars(ctx context.Context, statuses ...enums.CarStatus) ([]Car, error) {
	query := url.Values{}
	if len(statuses) > 0 {
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, s.String())
		}
		query.Set("status", strings.Join(parts, ","))
	}
	var out []Car
	err := c.do(ctx, http.MethodGet, "/api/v1/cars", query, nil, "", &out)
	return out, err
}

// GetCar fetches a single car.
func (c *Client) GetCar(ctx context.Context, id int64) (*Car, error) {
	var out Car
	if err := c.do(ctx, http.MethodGet, carPath(id), nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchCar looks a car up by id or plate.
func (c *Client) SearchCar(ctx context.Context, term string) (*Car, error) {
	var out Car
	query := url.Values{"q": []string{term}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/cars/search", query, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterCar creates a car in PRE_ARRIVAL.
func (c *Client) RegisterCar(ctx context.Context, car NewCar) (*Car, error) {
	var out Car
	if err := c.do(ctx, http.MethodPost, "/api/v1/cars", nil, car, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCar edits descriptive attributes.
func (c *Client) UpdateCar(ctx context.Context, id int64, update CarUpdate) (*Car, error) {
	var out Car
	if err := c.do(ctx, http.MethodPut, carPath(id), nil, update, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCar removes a car; only available outside production.
func (c *Client) DeleteCar(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/v1/cars/"+strconv.FormatInt(id, 10), nil, nil, "", nil)
}

// Transition moves a car to target. A fresh idempotency key is sent so a
// retried request is replayed rather than applied twice.
func (c *Client) Transition(ctx context.Context, id int64, target enums.CarStatus) (*Car, error) {
	var out Car
	body := transitionRequest{CarID: id, TargetStatus: target}
	if err := c.do(ctx, http.MethodPost, "/api/v1/transitions", nil, body, uuid.NewString(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the car's ledger, newest first.
func (c *Client) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := c.do(ctx, http.MethodGet, carPath(id)+"/history", nil, nil, "", &out)
	return out, err
}

// Suggestions returns the non-binding next-move hint.
func (c *Client) Suggestions(ctx context.Context, id int64) (*Suggestion, error) {
	var out Suggestion
	if err := c.do(ctx, http.MethodGet, carPath(id)+"/suggestions", nil, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Durations returns per-stage time-to-stage aggregates.
func (c *Client) Durations(ctx context.Context) ([]StageDuration, error) {
	var out []StageDuration
	err := c.do(ctx, http.MethodGet, "/api/v1/analytics/durations", nil, nil, "", &out)
	return out, err
}

// BulkLoad inserts cars before the event; the whole batch is rejected on any
// invalid row.
func (c *Client) BulkLoad(ctx context.Context, cars []NewCar) (int, error) {
	var out BulkLoadResult
	if err := c.do(ctx, http.MethodPost, "/api/admin/v1/cars/bulk", nil, bulkLoadRequest{Cars: cars}, uuid.NewString(), &out); err != nil {
		return 0, err
	}
	return out.Inserted, nil
}

func carPath(id int64) string {
	return "/api/v1/cars/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, idempotencyKey string, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.role != "" {
		req.Header.Set(RoleHeader, c.role.String())
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env types.RawSuccessEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response")
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response data")
	}
	return nil
}

// decodeError turns the API error envelope back into a typed error with the
// same code, so callers can use errors.IsCode across the wire.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))

	var env types.ErrorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Error.Code == "" {
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
			"unexpected api response")
	}

	typed := pkgerrors.New(pkgerrors.Code(env.Error.Code), env.Error.Message)
	if env.Error.Details != nil {
		typed = typed.WithDetails(env.Error.Details)
	}
	return typed
}
