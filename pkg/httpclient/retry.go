package httpclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrFetchExhausted is matched (errors.Is) by every FetchExhaustedError.
var ErrFetchExhausted = errors.New("fetch retries exhausted")

// RetryPolicy bounds the attempts of one logical fetch.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy mirrors a fixed 3 x 5s schedule.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Delay:       5 * time.Second,
	MaxDelay:    30 * time.Second,
	Multiplier:  1,
}

// delayAfter returns the pause that follows failed attempt n (1-based).
func (p RetryPolicy) delayAfter(n int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Delay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// TransientError describes one failed attempt: a transport error or a
// non-2xx status.
type TransientError struct {
	Attempt    int
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("attempt %d: status %d: %v", e.Attempt, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FetchExhaustedError is returned once every attempt failed transiently.
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Last }

func (e *FetchExhaustedError) Is(target error) bool { return target == ErrFetchExhausted }

// AttemptObserver is told the outcome of every attempt ("success" or "transient").
type AttemptObserver interface {
	ObserveAttempt(outcome string)
}

// Logger defines the logging surface the retrier relies on.
type Logger interface {
	WarnObj(msg, key string, obj interface{})
}

type noopLogger struct{}

func (noopLogger) WarnObj(string, string, interface{}) {}

// Retrier performs a POST with bounded retries and backoff.
type Retrier struct {
	client   Client
	policy   RetryPolicy
	observer AttemptObserver
	log      Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrier wraps client with policy. A nil client falls back to resty.
func NewRetrier(client Client, policy RetryPolicy, log Logger) *Retrier {
	if client == nil {
		client = NewRestyClient(30 * time.Second)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Retrier{
		client: client,
		policy: policy,
		log:    log,
		sleep:  sleepContext,
	}
}

// WithObserver attaches an attempt observer and returns r.
func (r *Retrier) WithObserver(o AttemptObserver) *Retrier {
	r.observer = o
	return r
}

// Fetch posts body to url. It returns the response body of the first 2xx
// attempt, a *FetchExhaustedError when all attempts failed, or the context
// error when ctx ends first.
func (r *Retrier) Fetch(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error) {
	var last error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := r.attempt(ctx, attempt, url, headers, body)
		if err == nil {
			r.observe("success")
			return payload, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		last = err
		r.observe("transient")
		r.log.WarnObj("request attempt failed", "fetch_attempt", map[string]any{
			"url":          url,
			"attempt":      attempt,
			"max_attempts": r.policy.MaxAttempts,
			"error":        err.Error(),
		})

		if attempt < r.policy.MaxAttempts {
			if err := r.sleep(ctx, r.policy.delayAfter(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, &FetchExhaustedError{URL: url, Attempts: r.policy.MaxAttempts, Last: last}
}

func (r *Retrier) attempt(ctx context.Context, n int, url string, headers map[string]string, body []byte) ([]byte, error) {
	resp, err := r.client.Post(ctx, url, headers, body)
	if err != nil {
		return nil, &TransientError{Attempt: n, Err: err}
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &TransientError{
			Attempt:    n,
			StatusCode: code,
			Err:        fmt.Errorf("body: %s", responseSnippet(resp.Body())),
		}
	}
	return resp.Body(), nil
}

func (r *Retrier) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveAttempt(outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
