package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/sensor"
)

// StopMarker is printed by a simulator stopped by its operator.
const StopMarker = sensor.StopMarker

const maxLineSize = 1 << 20

// ErrReadyTimeout is returned when a child stays silent past the readiness timeout.
var ErrReadyTimeout = errors.New("readiness timeout")

// Readiness is the state of a Monitor.
type Readiness int

const (
	Pending Readiness = iota
	Ready
	Failed
)

func (r Readiness) String() string {
	switch r {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReadyMarker is the line fragment a simulator prints once registered.
func ReadyMarker(sensorName string) string {
	return "[" + strings.ToUpper(sensorName) + "] run "
}

// Classify maps one output line to a readiness transition, or Pending for
// lines that carry none.
func Classify(sensorName, line string) Readiness {
	switch {
	case strings.Contains(line, ReadyMarker(sensorName)):
		return Ready
	case strings.Contains(strings.ToLower(line), "registration failed"):
		return Failed
	case strings.Contains(line, StopMarker):
		return Failed
	default:
		return Pending
	}
}

// Monitor watches a child's output for its readiness marker. The reader
// goroutine never waits on the consumer: it drains output until EOF and
// publishes the first transition by closing a channel.
type Monitor struct {
	name   string
	logger *logging.Logger

	mu      sync.Mutex
	state   Readiness
	reason  string
	decided chan struct{}

	exited     <-chan struct{}
	readerDone chan struct{}
}

// Watch starts monitoring p's output for sensorName's markers.
func Watch(sensorName string, p Process, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Monitor{
		name:       sensorName,
		logger:     logger,
		decided:    make(chan struct{}),
		exited:     p.Done(),
		readerDone: make(chan struct{}),
	}

	out := p.Output()
	if out == nil {
		close(m.readerDone)
		return m
	}
	go m.read(out)
	return m
}

func (m *Monitor) read(r io.Reader) {
	defer close(m.readerDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		m.logger.Info(line, zap.String("child", m.name))

		if m.State() != Pending {
			continue
		}
		switch Classify(m.name, line) {
		case Ready:
			m.decide(Ready, "")
		case Failed:
			m.decide(Failed, line)
		}
	}

	if err := scanner.Err(); err != nil {
		// A pty reports EIO once the child is gone; anything else leaves
		// unread output, which is drained so the child never blocks.
		m.logger.Debug("output reader stopped", zap.String("child", m.name), zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}

func (m *Monitor) decide(state Readiness, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Pending {
		return false
	}
	m.state = state
	m.reason = reason
	close(m.decided)
	return true
}

// State returns the current readiness.
func (m *Monitor) State() Readiness {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason is the line or event that failed the child.
func (m *Monitor) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// AwaitReady blocks until the child is Ready or Failed, exits, ctx is done,
// or timeout elapses. A zero timeout waits without bound. A child that exits
// before printing its marker is Failed.
func (m *Monitor) AwaitReady(ctx context.Context, timeout time.Duration) (Readiness, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-m.decided:
	case <-m.exited:
		// The marker may still be in flight through the pipe.
		select {
		case <-m.decided:
		case <-m.readerDone:
		case <-time.After(time.Second):
		}
		m.decide(Failed, "exited before ready")
	case <-deadline:
		m.decide(Failed, "no readiness marker")
		if m.State() == Failed {
			return Failed, fmt.Errorf("%w after %s", ErrReadyTimeout, timeout)
		}
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}

	state := m.State()
	if state == Failed {
		return state, fmt.Errorf("not ready: %s", m.Reason())
	}
	return state, nil
}

// Wait joins the reader goroutine, giving up after timeout.
func (m *Monitor) Wait(timeout time.Duration) bool {
	select {
	case <-m.readerDone:
		return true
	case <-time.After(timeout):
		return false
	}
}
