package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type stubResponse struct {
	body       []byte
	statusCode int
}

func (s stubResponse) Body() []byte    { return s.body }
func (s stubResponse) StatusCode() int { return s.statusCode }

type scriptedResult struct {
	resp Response
	err  error
}

// scriptedClient replays results in order and repeats the last one.
type scriptedClient struct {
	results []scriptedResult
	calls   int
}

func (s *scriptedClient) Post(context.Context, string, map[string]string, []byte) (Response, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].resp, s.results[i].err
}

type countingObserver map[string]int

func (c countingObserver) ObserveAttempt(outcome string) { c[outcome]++ }

func TestRetrierAttemptsExactlyMaxThenExhausts(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{{err: errors.New("connection refused")}}}
	obs := countingObserver{}
	r := NewRetrier(client, RetryPolicy{MaxAttempts: 3}, nil).WithObserver(obs)

	_, err := r.Fetch(context.Background(), "http://api", nil, nil)
	if !errors.Is(err, ErrFetchExhausted) {
		t.Fatalf("expected ErrFetchExhausted, got %v", err)
	}
	var exhausted *FetchExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("expected FetchExhaustedError with 3 attempts, got %#v", err)
	}
	var transient *TransientError
	if !errors.As(err, &transient) || transient.Attempt != 3 {
		t.Fatalf("expected last TransientError from attempt 3, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
	if obs["transient"] != 3 || obs["success"] != 0 {
		t.Fatalf("unexpected observations %v", obs)
	}
}

func TestRetrierRetriesNonSuccessStatus(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{resp: stubResponse{statusCode: http.StatusBadGateway, body: []byte("bad gateway")}},
		{resp: stubResponse{statusCode: http.StatusOK, body: []byte(`{"ok":true}`)}},
	}}
	var delays []time.Duration
	r := NewRetrier(client, RetryPolicy{MaxAttempts: 3, Delay: time.Second}, nil)
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	body, err := r.Fetch(context.Background(), "http://api", nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", body)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
	if len(delays) != 1 || delays[0] != time.Second {
		t.Fatalf("unexpected delays %v", delays)
	}
}

func TestRetrierDoesNotSleepAfterLastAttempt(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{{resp: stubResponse{statusCode: 500}}}}
	sleeps := 0
	r := NewRetrier(client, RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}, nil)
	r.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	if _, err := r.Fetch(context.Background(), "http://api", nil, nil); err == nil {
		t.Fatalf("expected error")
	}
	if sleeps != 1 {
		t.Fatalf("expected 1 sleep between 2 attempts, got %d", sleeps)
	}
}

func TestRetrierStopsOnCancelledContext(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{{err: errors.New("timeout")}}}
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(client, RetryPolicy{MaxAttempts: 5, Delay: time.Hour}, nil)
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := r.Fetch(ctx, "http://api", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrFetchExhausted) {
		t.Fatalf("cancellation must not be reported as exhaustion")
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestRetryPolicyDelayAfter(t *testing.T) {
	p := RetryPolicy{Delay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := p.delayAfter(i + 1); got != w {
			t.Fatalf("delayAfter(%d) = %v, want %v", i+1, got, w)
		}
	}
	fixed := RetryPolicy{Delay: 5 * time.Second, Multiplier: 1}
	if fixed.delayAfter(3) != 5*time.Second {
		t.Fatalf("fixed policy should not grow")
	}
}
