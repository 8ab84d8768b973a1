package nodekit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyRetriesTransientAndSucceeds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient("op", errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyDoesNotRetryPermanent(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent("op", errors.New("nope"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, PermanentDependencyFailure, KindOf(err))
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient("op", errors.New("still down"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("unwrapped")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Transient("op", cause)
	assert.ErrorIs(t, err, cause)
}
