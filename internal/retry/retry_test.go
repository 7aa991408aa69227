package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/robotrpc"
	"biopatrol/pkg/apperror"
	"biopatrol/pkg/logger"
)

func init() {
	logger.Init("error")
}

func cfg() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestWrap_SucceedsFirstTry(t *testing.T) {
	calls := 0
	op := Wrap("move_shelf", cfg(), func(ctx context.Context) (*robotrpc.Result, error) {
		calls++
		return &robotrpc.Result{OK: true}, nil
	})

	res, err := op(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, calls)
}

func TestWrap_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	op := Wrap("move_shelf", cfg(), func(ctx context.Context) (*robotrpc.Result, error) {
		calls++
		if calls < 3 {
			return nil, apperror.New(apperror.CodeTransientUnavailable, "no route to robot")
		}
		return &robotrpc.Result{OK: true}, nil
	})

	res, err := op(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, calls)
}

func TestWrap_DoesNotRetryNonTransient(t *testing.T) {
	calls := 0
	domainErr := apperror.New(apperror.CodeRobotDomain, "obstacle detected")
	op := Wrap("move_to_location", cfg(), func(ctx context.Context) (*robotrpc.Result, error) {
		calls++
		return nil, domainErr
	})

	_, err := op(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWrap_ExhaustsAtMaxRetriesPlusOne(t *testing.T) {
	calls := 0
	op := Wrap("move_shelf", Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		func(ctx context.Context) (*robotrpc.Result, error) {
			calls++
			return nil, apperror.New(apperror.CodeTransientDeadline, "deadline")
		})

	_, err := op(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, calls) // max_retries(2) + 1
}

func TestWrap_ZeroMaxRetriesIsSingleCall(t *testing.T) {
	calls := 0
	op := Wrap("dock_shelf", Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(ctx context.Context) (*robotrpc.Result, error) {
			calls++
			return nil, apperror.New(apperror.CodeTransientUnavailable, "unavailable")
		})

	_, err := op(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWrap_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	op := Wrap("move_shelf", cfg(), func(ctx context.Context) (*robotrpc.Result, error) {
		calls++
		return nil, apperror.New(apperror.CodeTransientUnavailable, "unavailable")
	})

	_, err := op(ctx)
	require.Error(t, err)
}
