package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPoll() PollConfig {
	return PollConfig{
		Interval: 15 * time.Second,
		Timeout:  10 * time.Minute,
		Clock:    testclock.NewDilatedWallClock(time.Millisecond),
	}
}

func TestPoll_ReadyAfterSeveralChecks(t *testing.T) {
	calls := 0
	var waited []int
	cfg := fastPoll()
	cfg.OnWait = func(attempt int) { waited = append(waited, attempt) }

	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, waited, 2)
}

func TestPoll_FatalErrorStops(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastPoll(), func(context.Context) (bool, error) {
		calls++
		return false, ErrResourceFailed
	})

	assert.ErrorIs(t, err, ErrResourceFailed)
	assert.Equal(t, 1, calls)
}

func TestPoll_TransientErrorKeepsWaiting(t *testing.T) {
	cfg := fastPoll()
	cfg.Transient = isTransient

	calls := 0
	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("read tcp: connection reset by peer")
		}
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPoll_TransientDoesNotMaskTerminalState(t *testing.T) {
	cfg := fastPoll()
	cfg.Transient = isTransient

	calls := 0
	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		calls++
		return false, ErrResourceGone
	})

	assert.ErrorIs(t, err, ErrResourceGone)
	assert.Equal(t, 1, calls)
}

func TestPoll_PersistentTransientErrorTimesOut(t *testing.T) {
	cfg := fastPoll()
	cfg.MaxAttempts = 3
	cfg.Transient = isTransient

	calls := 0
	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		calls++
		return false, errors.New("i/o timeout")
	})

	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 3, calls)
}

func TestPoll_Timeout(t *testing.T) {
	cfg := fastPoll()
	cfg.Timeout = time.Minute

	calls := 0
	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.LessOrEqual(t, calls, 5)
}

func TestPoll_MaxAttempts(t *testing.T) {
	cfg := fastPoll()
	cfg.MaxAttempts = 4

	calls := 0
	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 4, calls)
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastPoll()
	cfg.Timeout = 0

	calls := 0
	err := Poll(ctx, cfg, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	})

	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPoll_RejectsZeroInterval(t *testing.T) {
	err := Poll(context.Background(), PollConfig{}, func(context.Context) (bool, error) {
		t.Fatal("check must not run")
		return false, nil
	})
	assert.Error(t, err)
}
