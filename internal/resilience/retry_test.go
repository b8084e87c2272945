package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("503"), 503)
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 503)
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_NonTransientStops(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, fastPolicy(5), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("busy"), 503)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomRetryableAndOnRetry(t *testing.T) {
	var attempts []int
	p := fastPolicy(3)
	p.Retryable = func(error) bool { return true }
	p.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		return 0, errors.New("always")
	})
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}.withDefaults()
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, time.Second, p.delay(10))

	p.Jitter = 0.5
	for range 20 {
		d := p.delay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestLogRetry(t *testing.T) {
	assert.NotPanics(t, func() { LogRetry("download")(1, errors.New("x")) })
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("validation failed"), false},
		{"explicit", NewTransientError(errors.New("x"), 503), true},
		{"wrapped", fmt.Errorf("call: %w", NewTransientError(errors.New("x"), 0)), true},
		{"net timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"reset text", errors.New("read: connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("post: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(timeoutErr{}))
	assert.False(t, IsTimeout(syscall.ECONNREFUSED))
	assert.False(t, IsTimeout(nil))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 404, 501} {
		assert.False(t, RetryableStatus(code), code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner, 502)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "inner", te.Error())
	assert.Equal(t, 502, te.StatusCode)
}
