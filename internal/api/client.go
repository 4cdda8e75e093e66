package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderRequestID      = "X-Request-Id"
)

// ErrUnavailable marks failures where the server could not be reached or
// answered with a 5xx after all retries.
var ErrUnavailable = errors.New("order service unavailable")

// Envelope is the common response shape of every endpoint.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Options struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	RetryMax       int
	RetryBackoff   time.Duration
	HTTPClient     *http.Client
}

type Client struct {
	baseURL    string
	token      string
	customerID string
	timeout    time.Duration
	retryMax   int
	backoff    time.Duration
	http       *http.Client
	logger     *zap.Logger
}

func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("api base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		timeout:  opts.RequestTimeout,
		retryMax: opts.RetryMax,
		backoff:  opts.RetryBackoff,
		http:     opts.HTTPClient,
		logger:   logger.Named("api"),
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.backoff <= 0 {
		c.backoff = 200 * time.Millisecond
	}
	if c.retryMax < 0 {
		c.retryMax = 0
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.token != "" {
		claims, err := parseTokenClaims(c.token, time.Now())
		if err != nil {
			return nil, err
		}
		c.customerID = claims.Subject
	}
	return c, nil
}

// CustomerID is the subject of the configured bearer token, if any.
func (c *Client) CustomerID() string { return c.customerID }

type request struct {
	op             string
	method         string
	path           string
	body           any
	idempotencyKey string
}

// do sends req and decodes the envelope data into out. Transport errors and
// 5xx answers are retried with exponential backoff; business rejections are
// returned at once as *models.RejectionError.
func (c *Client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", req.op, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			wait := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt-1)))
			c.logger.Debug("retrying request",
				zap.String("op", req.op), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", req.op, ctx.Err())
			case <-time.After(wait):
			}
		}

		env, status, err := c.attempt(ctx, req, payload)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", req.op, ctx.Err())
			}
			lastErr = err
			continue
		}
		if status >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("server returned %d", status)
			continue
		}
		if env == nil {
			return fmt.Errorf("%s: unexpected status %d", req.op, status)
		}
		if !env.Success || status >= http.StatusBadRequest {
			msg := env.Message
			if msg == "" {
				msg = http.StatusText(status)
			}
			return &models.RejectionError{Operation: req.op, StatusCode: status, Message: msg}
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("%s: failed to decode response: %w", req.op, err)
			}
		}
		return nil
	}

	c.logger.Warn("request failed", zap.String("op", req.op), zap.Error(lastErr))
	return fmt.Errorf("%s: %w: %w", req.op, ErrUnavailable, lastErr)
}

// attempt runs a single round trip under the per-request timeout. A nil
// envelope means the body was not an envelope.
func (c *Client) attempt(ctx context.Context, req request, payload []byte) (*Envelope, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.idempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, resp.StatusCode, nil
	}
	return &env, resp.StatusCode, nil
}
