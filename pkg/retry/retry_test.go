package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"enrollment-service/pkg/retry"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) },
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 5, BaseDelay: time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) },
		func(ctx context.Context) error {
			calls++
			return permanent
		})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil,
		func(ctx context.Context) error {
			calls++
			return errTransient
		})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Do(ctx, retry.Policy{Attempts: 5, BaseDelay: time.Hour}, nil,
		func(ctx context.Context) error {
			calls++
			cancel()
			return errTransient
		})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
