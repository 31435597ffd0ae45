package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/resilience"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/onem2m"
)

// State is a telemetry loop state.
type State int

const (
	StateSending State = iota
	StateBackoff
	StateExhausted
	StateAborted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateBackoff:
		return "backoff"
	case StateExhausted:
		return "exhausted"
	case StateAborted:
		return "aborted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is how a loop ended.
type Result struct {
	State    State
	Sent     int
	Failures int
	// Err is the last send error when the loop aborted.
	Err error
}

// ExitCode maps the terminal state to a process exit code.
func (r Result) ExitCode() int {
	if r.State == StateAborted {
		return 1
	}
	return 0
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// LoopConfig configures a Loop.
type LoopConfig struct {
	Sensor    string
	AE        string
	Container string

	Interval  time.Duration
	RetryWait time.Duration
	Jitter    time.Duration
	// Threshold is the number of consecutive failures that aborts the loop.
	Threshold int
}

// LoopConfigFrom fills timing fields from the telemetry config.
func LoopConfigFrom(cfg config.TelemetryConfig, sensorName, ae, container string) LoopConfig {
	return LoopConfig{
		Sensor:    sensorName,
		AE:        ae,
		Container: container,
		Interval:  cfg.Frequency,
		RetryWait: cfg.RetryWait,
		Jitter:    cfg.Jitter,
		Threshold: cfg.FailureThreshold,
	}
}

// Loop sends values from a Source until it is exhausted, too many sends
// fail in a row, or the context is cancelled.
type Loop struct {
	client  onem2m.ResourceClient
	source  Source
	cfg     LoopConfig
	logger  *logging.Logger
	metrics *monitoring.Metrics
	sleep   SleepFunc
	jitter  func() time.Duration
}

// NewLoop creates a loop. logger may be nil.
func NewLoop(client onem2m.ResourceClient, source Source, cfg LoopConfig, logger *logging.Logger) *Loop {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	l := &Loop{
		client: client,
		source: source,
		cfg:    cfg,
		logger: logger.Named("telemetry"),
		sleep:  Sleep,
	}
	l.jitter = func() time.Duration { return 0 }
	if cfg.Jitter > 0 {
		u := distuv.Uniform{Min: 0, Max: float64(cfg.Jitter)}
		l.jitter = func() time.Duration { return time.Duration(u.Rand()) }
	}
	return l
}

// WithMetrics records send outcomes.
func (l *Loop) WithMetrics(m *monitoring.Metrics) *Loop {
	l.metrics = m
	return l
}

// WithSleep replaces the wait between iterations.
func (l *Loop) WithSleep(fn SleepFunc) *Loop {
	l.sleep = fn
	return l
}

// Run drives the loop to a terminal state.
func (l *Loop) Run(ctx context.Context) Result {
	breaker := resilience.New(l.cfg.Sensor, resilience.Settings{
		Timeout:     -1,
		ReadyToTrip: resilience.ConsecutiveFailures(uint32(l.cfg.Threshold)),
		OnStateChange: func(name string, from, to resilience.State) {
			l.logger.Debug("failure budget", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	var res Result
	for {
		if ctx.Err() != nil {
			res.State = StateCancelled
			return res
		}

		value, err := l.source.Peek()
		if err != nil {
			res.State = StateAborted
			res.Err = fmt.Errorf("read value: %w", err)
			return res
		}

		err = breaker.Do(ctx, func(ctx context.Context) error {
			return l.client.SendDataPoint(ctx, l.cfg.AE, l.cfg.Container, value)
		})

		if err == nil {
			res.Sent++
			l.source.Advance()
			l.metrics.RecordSend(l.cfg.Sensor, true)
			l.logger.Info("successfully sent", zap.String("value", value))

			if l.source.Done() {
				l.logger.Info("all data has been sent")
				res.State = StateExhausted
				return res
			}
			if l.sleep(ctx, l.cfg.Interval+l.jitter()) != nil {
				res.State = StateCancelled
				return res
			}
			continue
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			res.State = StateCancelled
			return res
		}

		res.Failures++
		l.metrics.RecordSend(l.cfg.Sensor, false)

		if breaker.Tripped() {
			l.logger.Error("repeated failures, giving up",
				zap.String("value", value),
				zap.Int("consecutive", l.cfg.Threshold),
				zap.Error(err),
			)
			res.State = StateAborted
			res.Err = err
			return res
		}

		l.logger.Warn("failed to send",
			zap.String("value", value),
			zap.String("kind", onem2m.Kind(err)),
			zap.Duration("retry_in", l.cfg.RetryWait),
			zap.Error(err),
		)
		if l.sleep(ctx, l.cfg.RetryWait) != nil {
			res.State = StateCancelled
			return res
		}
		// The reading interval also follows a backoff.
		if l.sleep(ctx, l.cfg.Interval+l.jitter()) != nil {
			res.State = StateCancelled
			return res
		}
	}
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
