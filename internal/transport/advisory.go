package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/regisgambiza/Smart-Air-Purifier/internal/circuitbreaker"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/domain/model"
	"github.com/regisgambiza/Smart-Air-Purifier/internal/metrics"
)

const (
	DefaultAdvisoryTimeout = 20 * time.Second
	advisoryTemperature    = 0.2
)

// AdvisoryClient issues non-streaming generation requests to an
// Ollama-compatible endpoint behind a circuit breaker.
type AdvisoryClient struct {
	client  *Client
	timeout time.Duration
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

type AdvisoryOption func(*advisoryOptions)

type advisoryOptions struct {
	timeout time.Duration
	breaker circuitbreaker.Config
}

func WithAdvisoryTimeout(d time.Duration) AdvisoryOption {
	return func(o *advisoryOptions) { o.timeout = d }
}

// WithBreakerConfig overrides the breaker thresholds. Name and
// OnTransition are always set by the client.
func WithBreakerConfig(cfg circuitbreaker.Config) AdvisoryOption {
	return func(o *advisoryOptions) { o.breaker = cfg }
}

func NewAdvisoryClient(client *Client, logger *slog.Logger, opts ...AdvisoryOption) *AdvisoryClient {
	o := advisoryOptions{
		timeout: DefaultAdvisoryTimeout,
		breaker: circuitbreaker.Config{
			TripAfter:  2,
			CloseAfter: 1,
			Cooldown:   30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &AdvisoryClient{
		client:  client,
		timeout: o.timeout,
		logger:  logger.With("component", "advisory_client"),
	}
	o.breaker.Name = "advisory"
	o.breaker.OnTransition = func(name string, from, to circuitbreaker.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		a.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	a.breaker = circuitbreaker.New(o.breaker)
	metrics.CircuitBreakerState.WithLabelValues("advisory").Set(float64(circuitbreaker.StateClosed))
	return a
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateReply struct {
	Response string `json:"response"`
}

// Generate returns the trimmed model reply. An empty reply is not an error
// here; callers that need text check for it.
func (a *AdvisoryClient) Generate(ctx context.Context, endpoint, modelName, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:   modelName,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: advisoryTemperature},
	})
	if err != nil {
		return "", fmt.Errorf("encode advisory request: %w", err)
	}

	var reply generateReply
	err = a.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, model.SubsystemAdvisory, Request{
			Method:      "POST",
			URL:         endpoint,
			Body:        payload,
			ContentType: "application/json",
			Timeout:     a.timeout,
			Decode: func(body []byte) error {
				return json.Unmarshal(body, &reply)
			},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("advisory generate: %w", err)
	}
	return strings.TrimSpace(reply.Response), nil
}

// BreakerState reports the advisory breaker state.
func (a *AdvisoryClient) BreakerState() circuitbreaker.State {
	return a.breaker.State()
}
