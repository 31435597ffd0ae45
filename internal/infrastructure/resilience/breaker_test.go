package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSend = errors.New("send failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func run(b *Breaker, ok bool) error {
	return b.Do(context.Background(), func(context.Context) error {
		if ok {
			return nil
		}
		return errSend
	})
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{Timeout: time.Minute, ReadyToTrip: ConsecutiveFailures(3)},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the streak",
			settings:      Settings{Timeout: time.Minute, ReadyToTrip: ConsecutiveFailures(3)},
			requests:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
		{
			name:          "default threshold is five",
			settings:      Settings{},
			requests:      []bool{false, false, false, false, false},
			expectedState: StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)

			for _, success := range tt.requests {
				err := run(breaker, success)
				if success {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, errSend)
				}
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Timeout: time.Minute})

	require.NoError(t, run(breaker, true))

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	assert.Error(t, run(breaker, false))

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerZeroIntervalKeepsCounts(t *testing.T) {
	clock := newFakeClock()
	breaker := New("temp", Settings{
		Timeout:     -1,
		ReadyToTrip: ConsecutiveFailures(3),
		Now:         clock.Now,
	})

	// Failures spread over hours still add up.
	for i := 0; i < 2; i++ {
		require.Error(t, run(breaker, false))
		clock.Advance(time.Hour)
	}
	assert.Equal(t, uint32(2), breaker.Counts().ConsecutiveFailures)

	require.Error(t, run(breaker, false))
	assert.Equal(t, StateOpen, breaker.State())

	// Negative timeout never half-opens.
	clock.Advance(24 * time.Hour)
	assert.Equal(t, StateOpen, breaker.State())
	assert.ErrorIs(t, run(breaker, true), ErrCircuitOpen)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: ConsecutiveFailures(2),
		Now:         clock.Now,
	})

	require.Error(t, run(breaker, false))
	clock.Advance(2 * time.Minute)
	require.Error(t, run(breaker, false))

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestBreakerOpenState(t *testing.T) {
	breaker := New("test", Settings{
		Timeout:     time.Minute,
		ReadyToTrip: ConsecutiveFailures(2),
	})

	for i := 0; i < 2; i++ {
		_ = run(breaker, false)
	}

	assert.Equal(t, StateOpen, breaker.State())
	assert.Equal(t, ErrCircuitOpen, run(breaker, true))
}

func TestBreakerHalfOpenState(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		MaxRequests: 2,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: ConsecutiveFailures(2),
		Now:         clock.Now,
	})

	for i := 0; i < 2; i++ {
		_ = run(breaker, false)
	}
	assert.Equal(t, StateOpen, breaker.State())

	clock.Advance(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, run(breaker, true))
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		Timeout:     time.Second,
		ReadyToTrip: ConsecutiveFailures(1),
		Now:         clock.Now,
	})

	_ = run(breaker, false)
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	require.ErrorIs(t, run(breaker, false), errSend)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerReset(t *testing.T) {
	breaker := New("test", Settings{Timeout: -1, ReadyToTrip: ConsecutiveFailures(1)})

	_ = run(breaker, false)
	require.Equal(t, StateOpen, breaker.State())

	breaker.Reset()
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, Counts{}, breaker.Counts())
	assert.NoError(t, run(breaker, true))
}

func TestBreakerCallbacks(t *testing.T) {
	clock := newFakeClock()
	var transitions []string

	breaker := New("test", Settings{
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: ConsecutiveFailures(2),
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
		Now: clock.Now,
	})

	for i := 0; i < 2; i++ {
		_ = run(breaker, false)
	}

	clock.Advance(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	assert.Equal(t, []string{"test:closed->open", "test:open->half-open"}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{ReadyToTrip: ConsecutiveFailures(1)})

	assert.Panics(t, func() {
		_ = breaker.Do(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.True(t, breaker.Tripped())
}

func TestBreakerIgnoresCancelledCalls(t *testing.T) {
	breaker := New("temp", Settings{Timeout: -1, ReadyToTrip: ConsecutiveFailures(2)})

	require.Error(t, run(breaker, false))

	ctx, cancel := context.WithCancel(context.Background())
	err := breaker.Do(ctx, func(ctx context.Context) error {
		cancel()
		return errSend
	})
	require.ErrorIs(t, err, errSend)

	err = breaker.Do(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(1), counts.Requests)
	assert.False(t, breaker.Tripped())
}

func TestBreakerCustomIsFailure(t *testing.T) {
	errNotFound := errors.New("not found")
	breaker := New("temp", Settings{
		ReadyToTrip: ConsecutiveFailures(1),
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, errNotFound)
		},
	})

	err := breaker.Do(context.Background(), func(context.Context) error { return errNotFound })
	require.ErrorIs(t, err, errNotFound)
	assert.False(t, breaker.Tripped())

	require.Error(t, run(breaker, false))
	assert.True(t, breaker.Tripped())
}
