package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/onem2m"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/sensor"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/telemetry"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/transport/httpx"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/transport/mqtt"
)

// Protocols and modes accepted on the command line.
const (
	ProtocolHTTP = "http"
	ProtocolMQTT = "mqtt"
	ModeCSV      = "csv"
	ModeRandom   = "random"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Options selects what one simulator process does.
type Options struct {
	Sensor   string
	Protocol string
	Mode     string
	// Frequency is the send interval; zero uses the telemetry default.
	Frequency    time.Duration
	Registration bool
	// CSVPath overrides the sensor's file under the data directory.
	CSVPath string
	// Seed feeds the random source; zero picks one from the clock.
	Seed uint64
}

// Validate checks the protocol, mode and sensor name.
func (o Options) Validate() error {
	var errs []error
	if strings.TrimSpace(o.Sensor) == "" {
		errs = append(errs, errors.New("sensor is required"))
	}
	switch o.Protocol {
	case ProtocolHTTP, ProtocolMQTT:
	default:
		errs = append(errs, fmt.Errorf("unsupported protocol %q", o.Protocol))
	}
	switch o.Mode {
	case ModeCSV, ModeRandom:
	default:
		errs = append(errs, fmt.Errorf("unsupported mode %q", o.Mode))
	}
	if o.Frequency < 0 {
		errs = append(errs, errors.New("frequency must not be negative"))
	}
	return errors.Join(errs...)
}

// FrequencyFromSeconds converts the --frequency flag value.
func FrequencyFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// ConnectFunc opens the transport a simulator talks through.
type ConnectFunc func(ctx context.Context, protocol string, s sensor.Sensor) (onem2m.ResourceClient, error)

// Simulator is one field device: it registers its AE and container and
// streams values until the data runs out, sends keep failing, or it is
// stopped.
type Simulator struct {
	cfg     *config.Config
	opts    Options
	sensor  sensor.Sensor
	out     io.Writer
	logger  *logging.Logger
	metrics *monitoring.Metrics
	connect ConnectFunc
	sleep   telemetry.SleepFunc
}

// New creates a simulator writing its console markers to out.
func New(cfg *config.Config, opts Options, out io.Writer, logger *logging.Logger) *Simulator {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Simulator{
		cfg:    cfg,
		opts:   opts,
		sensor: sensor.Lookup(opts.Sensor),
		out:    out,
		sleep:  telemetry.Sleep,
	}
	s.logger = logger.ForSensor(s.sensor.Name)
	s.connect = s.dial
	return s
}

// WithMetrics records transport and send metrics.
func (s *Simulator) WithMetrics(m *monitoring.Metrics) *Simulator {
	s.metrics = m
	return s
}

// WithConnector replaces how the transport is opened.
func (s *Simulator) WithConnector(fn ConnectFunc) *Simulator {
	s.connect = fn
	return s
}

// WithSleep replaces the wait used by the send loop.
func (s *Simulator) WithSleep(fn telemetry.SleepFunc) *Simulator {
	s.sleep = fn
	return s
}

// Sensor is the resolved catalog entry.
func (s *Simulator) Sensor() sensor.Sensor {
	return s.sensor
}

// Run executes the simulator and returns its process exit code.
func (s *Simulator) Run(ctx context.Context) int {
	if err := s.opts.Validate(); err != nil {
		s.printf("[ERROR] %v", err)
		return ExitFailure
	}

	source, err := s.source()
	if err != nil {
		s.printf("[ERROR] Failed to load data for %s: %v", s.sensor.Name, err)
		return ExitFailure
	}

	client, err := s.connect(ctx, s.opts.Protocol, s.sensor)
	if err != nil {
		if s.opts.Protocol == ProtocolHTTP {
			s.printf("[ERROR] Cannot connect to HTTP server")
		} else {
			s.printf("[ERROR] Cannot connect to MQTT broker")
		}
		s.logger.Error("connect failed", zap.String("protocol", s.opts.Protocol), zap.Error(err))
		return ExitFailure
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.logger.Debug("close transport", zap.Error(err))
		}
	}()

	if s.opts.Registration {
		if err := s.register(ctx, client); err != nil {
			if ctx.Err() != nil {
				s.printf("%s", sensor.StopMarker)
				return ExitOK
			}
			s.printf("[%s] registration failed: %v", s.sensor.Label(), err)
			return ExitFailure
		}
	}

	s.printf("%s", s.sensor.RunMarker(s.opts.Protocol, s.opts.Mode))

	loopCfg := telemetry.LoopConfigFrom(s.cfg.Telemetry, s.sensor.Name, s.sensor.AE, s.sensor.Container)
	if s.opts.Frequency > 0 {
		loopCfg.Interval = s.opts.Frequency
	}

	res := telemetry.NewLoop(client, source, loopCfg, s.logger).
		WithMetrics(s.metrics).
		WithSleep(s.sleep).
		Run(ctx)

	switch res.State {
	case telemetry.StateCancelled:
		s.printf("%s", sensor.StopMarker)
	case telemetry.StateExhausted:
		s.printf("[%s] all data sent (%d values)", s.sensor.Label(), res.Sent)
	case telemetry.StateAborted:
		s.printf("[ERROR] %s stopped after %d consecutive failures: %v", s.sensor.Name, loopCfg.Threshold, res.Err)
	}
	return res.ExitCode()
}

func (s *Simulator) register(ctx context.Context, client onem2m.ResourceClient) error {
	if err := client.EnsureApplicationEntity(ctx, s.sensor.AE); err != nil {
		return fmt.Errorf("ae %s: %w", s.sensor.AE, err)
	}
	if err := client.EnsureContainer(ctx, s.sensor.AE, s.sensor.Container); err != nil {
		return fmt.Errorf("container %s: %w", s.sensor.Container, err)
	}
	s.logger.Info("registered", zap.String("ae", s.sensor.AE), zap.String("container", s.sensor.Container))
	return nil
}

func (s *Simulator) source() (telemetry.Source, error) {
	if s.opts.Mode == ModeRandom {
		seed := s.opts.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		return telemetry.NewRandomSource(s.sensor.Profile, seed), nil
	}

	path := s.opts.CSVPath
	if path == "" {
		path = s.sensor.CSVPath(s.cfg.Telemetry.DataDir)
	}
	src, err := telemetry.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded csv", zap.String("path", path), zap.Int("values", src.Len()))
	return src, nil
}

func (s *Simulator) dial(ctx context.Context, protocol string, sn sensor.Sensor) (onem2m.ResourceClient, error) {
	switch protocol {
	case ProtocolHTTP:
		t := httpx.New(httpx.OptionsFromConfig(s.cfg, sn.Origin), s.logger, s.metrics)
		if err := t.Probe(ctx); err != nil {
			_ = t.Close()
			return nil, err
		}
		return t, nil
	case ProtocolMQTT:
		t, err := mqtt.Dial(mqtt.OptionsFromConfig(s.cfg, sn.Origin), s.logger, s.metrics)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
}

func (s *Simulator) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}
