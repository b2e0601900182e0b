// Package delivery posts payloads to the collection endpoint.
// Each call is a single attempt: there is no retry, queue, or persistence.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stone-age-io/telemetry-agent/internal/payload"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds one POST including reading the response body
	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response body is kept for logging
	maxBodyBytes = 1 << 20
)

// Outcome classifies a delivery attempt
type Outcome int

const (
	// OutcomeSuccess means the endpoint answered with a 2xx status
	OutcomeSuccess Outcome = iota
	// OutcomeApplicationFailure means the endpoint answered with a non-2xx status
	OutcomeApplicationFailure
	// OutcomeTransportFailure means no response was received
	OutcomeTransportFailure
	// OutcomeEncodingFailure means the payload could not be serialized and nothing was sent
	OutcomeEncodingFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeApplicationFailure:
		return "application_failure"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeEncodingFailure:
		return "encoding_failure"
	default:
		return "unknown"
	}
}

// Result describes one delivery attempt
type Result struct {
	Outcome    Outcome
	StatusCode int    // 0 for transport failures
	Body       string // response body, truncated to 1 MiB
	Err        error  // nil on success
	Duration   time.Duration
}

// TransportError wraps failures where no HTTP response was received
// (connection refused, DNS failure, timeout).
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// EncodingError is returned when the payload cannot be serialized
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("payload encoding failed: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ApplicationError is returned when the endpoint answers with a non-2xx status
type ApplicationError struct {
	StatusCode int
	Body       string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("endpoint returned status %d", e.StatusCode)
}

// Options configures a Client
type Options struct {
	Timeout   time.Duration
	Encoding  payload.Encoding
	UserAgent string
}

// Client performs single synchronous POSTs
type Client struct {
	httpClient *http.Client
	encoding   payload.Encoding
	userAgent  string
	logger     *zap.Logger
}

// NewClient creates a delivery client
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Encoding == "" {
		opts.Encoding = payload.EncodingJSON
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "telemetry-agent"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		encoding:   opts.Encoding,
		userAgent:  opts.UserAgent,
		logger:     logger,
	}
}

// Deliver POSTs p to endpoint once and classifies the result.
// It never panics on network errors and never retries.
func (c *Client) Deliver(ctx context.Context, endpoint string, p *payload.Payload) *Result {
	start := time.Now()
	result := &Result{}
	defer func() { result.Duration = time.Since(start) }()

	body, contentType, err := payload.Encode(p, c.encoding)
	if err != nil {
		result.Outcome = OutcomeEncodingFailure
		result.Err = &EncodingError{Err: err}
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		result.Outcome = OutcomeTransportFailure
		result.Err = &TransportError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
		return result
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("Posting payload",
		zap.String("endpoint", endpoint),
		zap.Int("bytes", len(body)),
		zap.String("content_type", contentType))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Outcome = OutcomeTransportFailure
		result.Err = &TransportError{Endpoint: endpoint, Err: err}
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	result.Body = string(respBody)
	if readErr != nil {
		c.logger.Debug("Failed to read full response body", zap.Error(readErr))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Outcome = OutcomeSuccess
		return result
	}

	result.Outcome = OutcomeApplicationFailure
	result.Err = &ApplicationError{StatusCode: resp.StatusCode, Body: result.Body}
	return result
}
