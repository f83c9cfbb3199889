package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/retry"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/tracing"
)

const (
	DefaultMaxAttempts = 3
	maxBodyBytes       = 1 << 20
	maxErrorBodyBytes  = 256
)

// Error is the single classified failure returned after retries are spent.
type Error struct {
	Subsystem model.Subsystem
	Class     retry.Class
	Reason    string
	Attempts  int
	URL       string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s request %s failed after %d attempt(s) [%s]: %v",
		e.Subsystem, e.URL, e.Attempts, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Request describes one logical call. Decode runs on every successful
// reply; a decode error counts as a malformed body and is retried.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Timeout     time.Duration
	MaxAttempts int
	Decode      func(body []byte) error
}

// Client issues HTTP requests with bounded retry and exponential backoff.
type Client struct {
	httpClient  *http.Client
	maxAttempts int
	backoff     retry.Backoff
	sleepFn     retry.SleepFunc
	logger      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

func WithBackoff(b retry.Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

func WithSleepFunc(fn retry.SleepFunc) Option {
	return func(c *Client) { c.sleepFn = fn }
}

func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		maxAttempts: DefaultMaxAttempts,
		backoff:     retry.DefaultBackoff,
		sleepFn:     retry.Sleep,
		logger:      logger.With("component", "transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	return c
}

// Do performs req for subsystem sub, retrying transient failures. The
// returned error, if any, is always an *Error.
func (c *Client) Do(ctx context.Context, sub model.Subsystem, req Request) ([]byte, error) {
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = c.maxAttempts
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	redacted := RedactURL(req.URL)

	ctx, span := tracing.Tracer("transport").Start(ctx, "transport.request",
		otelTrace.WithAttributes(
			attribute.String("subsystem", sub.String()),
			attribute.String("http.method", method),
			attribute.String("url", redacted),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.TransportRequestLatency.WithLabelValues(sub.String()).Observe(time.Since(start).Seconds())
	}()

	log := c.logger.With("subsystem", sub, "url", redacted)

	var lastErr error
	var lastDecision retry.Decision
	attempt := 1
	for ; attempt <= attempts; attempt++ {
		body, err := c.once(ctx, method, req)
		if err == nil {
			metrics.TransportRequestsTotal.WithLabelValues(sub.String(), "ok").Inc()
			span.SetAttributes(attribute.Int("attempts", attempt))
			return body, nil
		}

		lastErr = err
		lastDecision = retry.Classify(err)
		if ctx.Err() != nil || !lastDecision.IsTransient() || attempt == attempts {
			break
		}

		metrics.TransportRetriesTotal.WithLabelValues(sub.String(), lastDecision.Reason).Inc()
		log.Warn("request failed; retrying",
			"classification", lastDecision.Class,
			"classification_reason", lastDecision.Reason,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)

		if sleepErr := c.sleepFn(ctx, c.backoff.Delay(attempt)); sleepErr != nil {
			lastErr = sleepErr
			lastDecision = retry.Classify(sleepErr)
			break
		}
	}
	attempt = min(attempt, attempts)

	metrics.TransportRequestsTotal.WithLabelValues(sub.String(), "error").Inc()
	out := &Error{
		Subsystem: sub,
		Class:     lastDecision.Class,
		Reason:    lastDecision.Reason,
		Attempts:  attempt,
		URL:       redacted,
		Err:       lastErr,
	}
	span.RecordError(out)
	span.SetStatus(codes.Error, lastDecision.Reason)
	return nil, out
}

func (c *Client) once(ctx context.Context, method string, req Request) ([]byte, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if req.Body != nil {
		reader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("create request: %w", err))
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: truncate(string(body), maxErrorBodyBytes)}
	}

	if req.Decode != nil {
		if err := req.Decode(body); err != nil {
			return nil, retry.MalformedBody(fmt.Errorf("decode response: %w", err))
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
