package retry

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

	"github.com/dshills/reposync/pkg/types"
)

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, time.Duration(0), p.Delay(0))

	capped := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, 3*time.Second, capped.Delay(3))
	assert.Equal(t, 3*time.Second, capped.Delay(10))
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retries []int

	got, err := Do(context.Background(), fastPolicy(3), func(attempt int) (string, error) {
		calls++
		if attempt < 2 {
			return "", Transient(errors.New("connection reset"))
		}
		return "ok", nil
	}, BeforeRetry(func(retry int, err error, delay time.Duration) {
		retries = append(retries, retry)
	}))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(int) (int, error) {
		calls++
		return 0, Permanent(errors.New("repository not found"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	sentinel := errors.New("timeout")
	_, err := Do(context.Background(), fastPolicy(2), func(int) (int, error) {
		calls++
		return 0, Transient(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls, "one attempt plus two retries")
}

func TestDo_CustomClassifier(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(2), func(int) (int, error) {
		calls++
		return 0, errors.New("disk I/O error")
	}, WithClassifier(func(err error) bool { return !IsPermanent(err) }))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(int) (int, error) {
			calls++
			return 0, Transient(errors.New("refused"))
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("clone: %w", context.DeadlineExceeded), true},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, true},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("no route")}, true},
		{"connection refused", fmt.Errorf("post: %w", syscall.ECONNREFUSED), true},
		{"tls handshake", errors.New("remote error: tls: handshake failure"), true},
		{"fetch failed", &types.FetchError{Op: "clone", Retryable: true}, true},
		{"fetch rejected", &types.FetchError{Op: "clone", Retryable: false}, false},
		{"transient mark", Transient(errors.New("429")), true},
		{"permanent mark", Permanent(errors.New("401")), false},
		{"plain error", errors.New("bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
