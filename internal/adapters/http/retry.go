package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/proxy"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	JitterMin   time.Duration
	JitterMax   time.Duration
	// RateLimitMultiplier scales the backoff after a 429.
	RateLimitMultiplier int
}

func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         maxAttempts,
		BaseDelay:           2 * time.Second,
		JitterMin:           500 * time.Millisecond,
		JitterMax:           1500 * time.Millisecond,
		RateLimitMultiplier: 3,
	}
}

// Backoff is the wait after the attempt-th failure (1-indexed):
// base*attempt plus uniform jitter, multiplied for rate limiting.
func (p RetryPolicy) Backoff(attempt int, kind Kind) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay * time.Duration(attempt)
	if kind == KindRateLimited && p.RateLimitMultiplier > 1 {
		delay *= time.Duration(p.RateLimitMultiplier)
	}
	return delay + utils.RandomDuration(p.JitterMin, p.JitterMax)
}

// AcceptFunc validates a 2xx response. A non-nil error turns the attempt
// into a KindMalformed failure.
type AcceptFunc func(res *Response) error

type Sleeper func(ctx context.Context, d time.Duration) error

// RetryingClient re-issues requests through an APIClient according to a
// RetryPolicy. Connection-level failures rotate the bound proxy; the set of
// proxies that failed is local to this client.
type RetryingClient struct {
	api   *APIClient
	pool  *proxy.Pool
	tried proxy.Tried
	sleep Sleeper
	log   *logger.ClassLogger
}

func NewRetryingClient(api *APIClient, pool *proxy.Pool) *RetryingClient {
	return &RetryingClient{
		api:   api,
		pool:  pool,
		tried: proxy.Tried{},
		sleep: utils.SleepContext,
		log:   api.Log,
	}
}

func (r *RetryingClient) WithSleeper(s Sleeper) *RetryingClient {
	r.sleep = s
	return r
}

func (r *RetryingClient) API() *APIClient { return r.api }

// Tried exposes the proxies excluded so far for this account.
func (r *RetryingClient) Tried() proxy.Tried { return r.tried }

func (r *RetryingClient) Do(ctx context.Context, policy RetryPolicy, endpoint string, opts *FetchOptions, accept AcceptFunc) (*Response, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := r.api.Fetch(ctx, endpoint, opts)
		if err == nil && accept != nil {
			if aerr := accept(res); aerr != nil {
				err = &RequestError{Kind: KindMalformed, StatusCode: res.StatusCode, Body: res.Body, Err: aerr}
			}
		}
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}

		var re *RequestError
		if !errors.As(err, &re) || !re.Kind.Retryable() {
			return nil, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		if re.ConnLevel {
			r.rotate()
		}

		wait := policy.Backoff(attempt, re.Kind)
		r.log.Warn(fmt.Sprintf("Attempt %d/%d failed (%s), retrying in %s", attempt, maxAttempts, re.Kind, wait.Round(time.Millisecond)))
		if err := r.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%w: %w", err, lastErr)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, lastErr)
}

func (r *RetryingClient) rotate() {
	current := r.api.Proxy()
	if current.IsZero() || r.pool.Len() == 0 {
		return
	}
	r.tried.Add(current)
	next, ok := r.pool.Select(r.tried)
	if !ok {
		r.log.Warn("No untried proxy left, keeping current proxy")
		return
	}
	if err := r.api.Bind(next); err != nil {
		r.tried.Add(next)
		r.log.Warn(fmt.Sprintf("Failed to bind proxy %s: %v", next, err))
		return
	}
	r.log.Info(fmt.Sprintf("Rotated proxy to %s", next))
}
