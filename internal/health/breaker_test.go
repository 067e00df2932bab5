package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omarluq/gem-relay/internal/health"
)

const testUpstreamName = "generativelanguage.googleapis.com"

func newTestBreaker(threshold, openMS, probes int) *health.Breaker {
	cfg := health.Config{
		FailureThreshold: threshold,
		OpenDurationMS:   openMS,
		HalfOpenProbes:   probes,
	}
	return health.NewBreaker(testUpstreamName, cfg, nil)
}

func TestNewBreakerDefaultSettings(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(0, 0, 0)

	if breaker == nil {
		t.Fatal("expected non-nil health.Breaker")
	}
	if breaker.Name() != testUpstreamName {
		t.Errorf("expected name %q, got %q", testUpstreamName, breaker.Name())
	}
	if breaker.State() != health.StateClosed {
		t.Errorf("expected initial state CLOSED, got %s", breaker.State().String())
	}
}

func TestBreakerAllowWhenClosed(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(5, 1000, 3)

	done, err := breaker.Allow()
	if err != nil {
		t.Fatalf("expected Allow to succeed when closed, got error: %v", err)
	}
	if done == nil {
		t.Fatal("expected non-nil done function")
	}

	done(nil)

	if breaker.State() != health.StateClosed {
		t.Errorf("expected state CLOSED after success, got %s", breaker.State().String())
	}
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(3, 1000, 1)
	testErr := errors.New("test error")

	for i := 0; i < 3; i++ {
		done, allowErr := breaker.Allow()
		if allowErr != nil {
			t.Fatalf("iteration %d: Allow failed before threshold: %v", i, allowErr)
		}
		done(testErr)
	}

	if breaker.State() != health.StateOpen {
		t.Errorf("expected state OPEN after %d failures, got %s", 3, breaker.State().String())
	}

	_, err := breaker.Allow()
	if err == nil {
		t.Error("expected Allow to fail when circuit is open")
	}
	if !errors.Is(err, health.ErrCircuitOpen) {
		t.Errorf("expected health.ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(2, 100, 1)
	testErr := errors.New("test error")

	for i := 0; i < 2; i++ {
		done, allowErr := breaker.Allow()
		if allowErr != nil {
			t.Fatalf("Allow failed: %v", allowErr)
		}
		done(testErr)
	}

	if breaker.State() != health.StateOpen {
		t.Fatalf("expected state OPEN, got %s", breaker.State().String())
	}

	time.Sleep(150 * time.Millisecond)

	done, err := breaker.Allow()
	if err != nil {
		t.Fatalf("expected Allow to succeed in half-open state, got error: %v", err)
	}

	if breaker.State() != health.StateHalfOpen {
		t.Errorf("expected state HALF-OPEN after timeout, got %s", breaker.State().String())
	}

	done(nil)
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(2, 50, 2)
	testErr := errors.New("test error")

	for i := 0; i < 2; i++ {
		done, allowErr := breaker.Allow()
		if allowErr != nil {
			t.Fatalf("iteration %d: Allow failed: %v", i, allowErr)
		}
		done(testErr)
	}

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 2; i++ {
		done, allowErr := breaker.Allow()
		if allowErr != nil {
			t.Fatalf("probe %d: expected Allow to succeed, got error: %v", i, allowErr)
		}
		done(nil)
	}

	if breaker.State() != health.StateClosed {
		t.Errorf("expected state CLOSED after successful probes, got %s", breaker.State().String())
	}
}

func TestBreakerContextCanceledNotFailure(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(2, 1000, 1)

	for i := 0; i < 5; i++ {
		done, allowErr := breaker.Allow()
		if allowErr != nil {
			t.Fatalf("iteration %d: Allow failed unexpectedly: %v", i, allowErr)
		}
		done(context.Canceled)
	}

	if breaker.State() != health.StateClosed {
		t.Errorf("expected state CLOSED after context.Canceled errors, got %s", breaker.State().String())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(2, 50, 2)
	testErr := errors.New("test error")

	for i := 0; i < 2; i++ {
		done, allowErr := breaker.Allow()
		if allowErr != nil {
			t.Fatalf("Allow failed: %v", allowErr)
		}
		done(testErr)
	}

	if breaker.State() != health.StateOpen {
		t.Fatalf("expected state OPEN, got %s", breaker.State().String())
	}

	time.Sleep(100 * time.Millisecond)

	done, err := breaker.Allow()
	if err != nil {
		t.Fatalf("expected Allow to succeed in half-open state, got error: %v", err)
	}
	done(testErr)

	if breaker.State() != health.StateOpen {
		t.Errorf("expected state OPEN after failure in HALF-OPEN, got %s", breaker.State().String())
	}
}

func TestShouldCountAsFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err        error
		name       string
		statusCode int
		want       bool
	}{
		{name: "200 OK", statusCode: 200, err: nil, want: false},
		{name: "201 Created", statusCode: 201, err: nil, want: false},
		{name: "400 Bad Request", statusCode: 400, err: nil, want: false},
		{name: "401 Unauthorized", statusCode: 401, err: nil, want: false},
		{name: "403 Forbidden", statusCode: 403, err: nil, want: false},
		{name: "404 Not Found", statusCode: 404, err: nil, want: false},
		{name: "422 Unprocessable", statusCode: 422, err: nil, want: false},
		{name: "429 Rate Limited", statusCode: 429, err: nil, want: false},
		{name: "context canceled", statusCode: 0, err: context.Canceled, want: false},
		{name: "500 Internal Server Error", statusCode: 500, err: nil, want: true},
		{name: "502 Bad Gateway", statusCode: 502, err: nil, want: true},
		{name: "503 Service Unavailable", statusCode: 503, err: nil, want: true},
		{name: "504 Gateway Timeout", statusCode: 504, err: nil, want: true},
		{name: "network error", statusCode: 0, err: errors.New("connection refused"), want: true},
		{name: "context deadline", statusCode: 0, err: context.DeadlineExceeded, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := health.ShouldCountAsFailure(tt.statusCode, tt.err)
			if got != tt.want {
				t.Errorf("health.ShouldCountAsFailure(%d, %v) = %v, want %v", tt.statusCode, tt.err, got, tt.want)
			}
		})
	}
}

func TestShouldCountAsFailureWrappedContextCanceled(t *testing.T) {
	t.Parallel()
	wrappedErr := errors.Join(errors.New("request failed"), context.Canceled)

	if health.ShouldCountAsFailure(0, wrappedErr) {
		t.Error("expected wrapped context.Canceled to NOT count as failure")
	}
}
