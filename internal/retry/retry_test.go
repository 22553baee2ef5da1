package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	p := Default(func(error) bool { return true })
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUpToMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Cap: 10 * time.Millisecond, RetryOn: func(error) bool { return true }}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsEarlyWhenNotRetryable(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Cap: 10 * time.Millisecond, RetryOn: func(error) bool { return false }}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, Cap: time.Second, RetryOn: func(error) bool { return true }}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("transient")
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestDelayFor_NeverExceedsCap(t *testing.T) {
	p := Policy{BaseDelay: 250 * time.Millisecond, Cap: 2 * time.Second, Jitter: 0.2}
	for attempt := 0; attempt < 10; attempt++ {
		d := p.delayFor(attempt)
		assert.LessOrEqual(t, d, p.Cap)
	}
}
