// Package generator talks to the external content producing service. The
// service is slow and not idempotent, so Client bounds every attempt with a
// timeout and retries at most once, and only when nothing was produced.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

var (
	// ErrProviderUnavailable marks transient failures: network errors, 5xx, 429.
	ErrProviderUnavailable = errors.New("content provider unavailable")
	// ErrRejected marks requests the provider refused outright.
	ErrRejected = errors.New("content provider rejected request")
	// ErrMalformedOutput marks responses that do not carry one payload per unit.
	ErrMalformedOutput = errors.New("malformed provider output")
	ErrTimeout         = errors.New("content provider timed out")
)

// Request is what the provider needs to produce Quantity payloads.
type Request struct {
	Category string
	Title    string
	Inputs   map[string]string
	Quantity int
}

// Provider produces one payload per requested unit.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) ([]string, error)
}

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client wraps a Provider with the timeout and retry policy.
type Client struct {
	provider Provider
	timeout  time.Duration
	executor failsafe.Executor[[]string]
	logger   logrus.FieldLogger
}

func NewClient(provider Provider, opts Options, logger logrus.FieldLogger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries > 1 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}

	logger = logger.WithFields(logrus.Fields{"component": "generator", "provider": provider.Name()})

	retry := retrypolicy.NewBuilder[[]string]().
		HandleIf(func(_ []string, err error) bool {
			return errors.Is(err, ErrProviderUnavailable)
		}).
		WithMaxRetries(opts.MaxRetries).
		WithDelay(opts.RetryDelay).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[[]string]) {
			logger.WithError(e.LastError()).WithField("attempt", e.Attempts()).Warn("Retrying content provider")
		}).
		Build()

	return &Client{
		provider: provider,
		timeout:  opts.Timeout,
		executor: failsafe.With[[]string](retry),
		logger:   logger,
	}
}

func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Generate calls the provider and checks that exactly Quantity non-empty
// payloads came back.
func (c *Client) Generate(ctx context.Context, req Request) ([]string, error) {
	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity %d", ErrRejected, req.Quantity)
	}

	payloads, err := c.executor.WithContext(ctx).Get(func() ([]string, error) {
		return c.attempt(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if len(payloads) != req.Quantity {
		return nil, fmt.Errorf("%w: expected %d payloads, got %d", ErrMalformedOutput, req.Quantity, len(payloads))
	}
	for i, p := range payloads {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: payload %d is empty", ErrMalformedOutput, i)
		}
	}
	return payloads, nil
}

func (c *Client) attempt(ctx context.Context, req Request) ([]string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payloads, err := c.provider.Generate(attemptCtx, req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
		}
		return nil, err
	}
	return payloads, nil
}
