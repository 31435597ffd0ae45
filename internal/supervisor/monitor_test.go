package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Readiness
	}{
		{"[TEMP] run protocol=mqtt mode=csv", Ready},
		{"2024/01/01 [TEMP] run protocol=http mode=random", Ready},
		{"[HUMID] run protocol=mqtt mode=csv", Pending},
		{"[TEMP] Registration FAILED: rejected", Failed},
		{"[TEMP] registration failed: unreachable", Failed},
		{StopMarker, Failed},
		{"[TEMP] sent 21.5", Pending},
		{"[TEMP] running", Pending},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify("temp", tt.line))
		})
	}
}

func TestReadinessString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Readiness(9).String())
}

func TestMonitorReady(t *testing.T) {
	p := newFakeProcess("temp", 1, true)
	m := Watch("temp", p, nil)
	go becomesReady(p)

	state, err := m.AwaitReady(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Ready, state)

	// Later failure lines do not revert readiness.
	p.say("[TEMP] registration failed: late")
	assert.Equal(t, Ready, m.State())

	p.exit(0)
	assert.True(t, m.Wait(time.Second))
}

func TestMonitorRegistrationFailed(t *testing.T) {
	p := newFakeProcess("co2", 1, true)
	m := Watch("co2", p, nil)
	go failsRegistration(p)

	state, err := m.AwaitReady(context.Background(), time.Second)
	assert.Error(t, err)
	assert.Equal(t, Failed, state)
	assert.Contains(t, m.Reason(), "registration failed")
}

func TestMonitorExitBeforeReady(t *testing.T) {
	p := newFakeProcess("temp", 1, true)
	m := Watch("temp", p, nil)
	go func() {
		p.say("[TEMP] connecting")
		p.exit(1)
	}()

	state, err := m.AwaitReady(context.Background(), time.Second)
	assert.Error(t, err)
	assert.Equal(t, Failed, state)
	assert.Equal(t, "exited before ready", m.Reason())
}

func TestMonitorMarkerBeforeExit(t *testing.T) {
	p := newFakeProcess("temp", 1, true)
	m := Watch("temp", p, nil)
	go func() {
		p.say(readyLine("temp"))
		p.exit(0)
	}()

	state, err := m.AwaitReady(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Ready, state)
}

func TestMonitorTimeout(t *testing.T) {
	p := newFakeProcess("temp", 1, true)
	m := Watch("temp", p, nil)

	state, err := m.AwaitReady(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrReadyTimeout)
	assert.Equal(t, Failed, state)

	// A marker after the deadline does not change the verdict.
	go p.say(readyLine("temp"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Failed, m.State())
	p.exit(0)
}

func TestMonitorContextCancel(t *testing.T) {
	p := newFakeProcess("temp", 1, true)
	m := Watch("temp", p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := m.AwaitReady(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Pending, state)
	p.exit(0)
}

func TestMonitorDrainsOversizedLines(t *testing.T) {
	p := newFakeProcess("temp", 1, true)
	m := Watch("temp", p, nil)

	written := make(chan struct{})
	go func() {
		p.say(strings.Repeat("x", 2*maxLineSize))
		p.say(readyLine("temp"))
		p.exit(0)
		close(written)
	}()

	select {
	case <-written:
	case <-time.After(2 * time.Second):
		t.Fatal("child blocked on output")
	}
	assert.True(t, m.Wait(time.Second))
}

func TestMonitorWithoutOutput(t *testing.T) {
	p := newFakeProcess("server", 1, false)
	m := Watch("server", p, nil)
	assert.True(t, m.Wait(10*time.Millisecond))
}
