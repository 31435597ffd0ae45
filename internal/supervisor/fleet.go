package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
)

// Outcome reasons.
const (
	ReasonServerStart     = "server failed to start"
	ReasonServerUnhealthy = "server not healthy"
	ReasonNoneReady       = "no simulator became ready"
	ReasonServerCrashed   = "server crashed"
	ReasonFleetCompleted  = "fleet completed"
	ReasonInterrupted     = "interrupted"
)

// Child states reported by Status and the fleet gauge.
const (
	ChildStarting   = "starting"
	ChildReady      = "ready"
	ChildFailed     = "failed"
	ChildExited     = "exited"
	ChildTerminated = "terminated"
)

var childStates = []string{ChildStarting, ChildReady, ChildFailed, ChildExited, ChildTerminated}

// HealthWaiter blocks until the server is healthy.
type HealthWaiter interface {
	WaitHealthy(ctx context.Context, timeout, interval time.Duration, exited <-chan struct{}) error
}

// Options configures a Fleet.
type Options struct {
	Server        Command
	SimulatorPath string
	// SimulatorArgs precede the per-sensor flags.
	SimulatorArgs []string
	Fleet         *config.Fleet

	HealthTimeout     time.Duration
	HealthInterval    time.Duration
	PollInterval      time.Duration
	ReadyTimeout      time.Duration
	ProcTermWait      time.Duration
	ServerTermWait    time.Duration
	JoinReaderTimeout time.Duration
}

// OptionsFromConfig builds Options from the supervisor config.
func OptionsFromConfig(cfg *config.Config, fleet *config.Fleet) Options {
	s := cfg.Supervisor
	return Options{
		Server:            Command{Name: "server", Path: s.ServerExec, Args: s.ServerArgs, Inherit: true},
		SimulatorPath:     s.SimulatorExec,
		SimulatorArgs:     s.SimulatorArgs,
		Fleet:             fleet,
		HealthTimeout:     s.HealthTimeout,
		HealthInterval:    s.HealthInterval,
		PollInterval:      s.PollInterval,
		ReadyTimeout:      s.ReadyTimeout,
		ProcTermWait:      s.ProcTermWait,
		ServerTermWait:    s.ServerTermWait,
		JoinReaderTimeout: s.JoinReaderTimeout,
	}
}

// Outcome is how a fleet run ended.
type Outcome struct {
	Reason   string
	ExitCode int
	// Started counts simulators that reached readiness.
	Started int
	Failed  []string
}

// ChildStatus is the externally visible record of one simulator.
type ChildStatus struct {
	Sensor   string `json:"sensor"`
	Protocol string `json:"protocol"`
	Mode     string `json:"mode"`
	Pid      int    `json:"pid"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Status is a snapshot of the fleet.
type Status struct {
	Phase      string        `json:"phase"`
	ServerPid  int           `json:"server_pid,omitempty"`
	Configured int           `json:"configured"`
	Children   []ChildStatus `json:"children"`
}

type child struct {
	spec    config.SensorSpec
	proc    Process
	monitor *Monitor
	state   string
}

// Fleet starts the server and the simulators and supervises them. It owns
// every child it starts; nothing else signals them.
type Fleet struct {
	opts     Options
	launcher Launcher
	health   HealthWaiter
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu       sync.Mutex
	phase    string
	server   Process
	children []*child
}

// New creates a Fleet. logger may be nil.
func New(opts Options, launcher Launcher, health HealthWaiter, logger *logging.Logger) *Fleet {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Fleet == nil {
		opts.Fleet = config.DefaultFleet()
	}
	return &Fleet{
		opts:     opts,
		launcher: launcher,
		health:   health,
		logger:   logger.Named("coord"),
		phase:    "idle",
	}
}

// WithMetrics publishes child counts per state.
func (f *Fleet) WithMetrics(m *monitoring.Metrics) *Fleet {
	f.metrics = m
	return f
}

// Run starts everything, supervises until the server dies, the fleet
// finishes or ctx is cancelled, and always tears down before returning.
func (f *Fleet) Run(ctx context.Context) Outcome {
	out := f.run(ctx)
	f.teardown()

	if out.ExitCode != 0 {
		f.logger.Error("coordinator exiting",
			zap.String("reason", out.Reason),
			zap.Int("started", out.Started),
			zap.Strings("failed", out.Failed),
		)
	} else {
		f.logger.Info("coordinator exiting", zap.String("reason", out.Reason), zap.Int("started", out.Started))
	}
	f.setPhase("stopped")
	return out
}

func (f *Fleet) run(ctx context.Context) Outcome {
	f.setPhase("starting server")
	f.logger.Info("Starting tinyIoT server", zap.Stringer("cmd", f.opts.Server))

	server, err := f.launcher.Start(f.opts.Server)
	if err != nil {
		f.logger.Error("Failed to start server", zap.Error(err))
		return Outcome{Reason: ReasonServerStart, ExitCode: 1}
	}
	f.mu.Lock()
	f.server = server
	f.mu.Unlock()

	f.setPhase("waiting for server")
	if err := f.health.WaitHealthy(ctx, f.opts.HealthTimeout, f.opts.HealthInterval, server.Done()); err != nil {
		if ctx.Err() != nil {
			return f.interruptedStartup(Outcome{}, 0)
		}
		f.logger.Error("Unable to connect to tinyIoT server", zap.Error(err))
		return Outcome{Reason: ReasonServerUnhealthy, ExitCode: 1}
	}

	out, ok := f.startSimulators(ctx)
	if !ok {
		return out
	}
	return f.supervise(ctx, out)
}

// startSimulators launches the fleet in order and stops at the first
// simulator that does not become ready.
func (f *Fleet) startSimulators(ctx context.Context) (Outcome, bool) {
	f.setPhase("starting simulators")
	sensors := f.opts.Fleet.Sensors
	var out Outcome

	for i, spec := range sensors {
		if ctx.Err() != nil {
			return f.interruptedStartup(out, i), false
		}

		cmd := f.simulatorCommand(spec)
		f.logger.Info("Starting simulator",
			zap.String("sensor", spec.Sensor),
			zap.Int("index", i+1),
			zap.Stringer("cmd", cmd),
		)

		proc, err := f.launcher.Start(cmd)
		if err != nil {
			f.logger.Error("Failed to start simulator", zap.String("sensor", spec.Sensor), zap.Error(err))
			out.Failed = append(out.Failed, spec.Sensor)
			break
		}

		c := &child{
			spec:    spec,
			proc:    proc,
			monitor: Watch(spec.Sensor, proc, f.logger.Named("child")),
			state:   ChildStarting,
		}
		f.addChild(c)

		state, err := c.monitor.AwaitReady(ctx, f.opts.ReadyTimeout)
		if state == Ready {
			f.setChildState(c, ChildReady)
			out.Started++
			f.logger.Info("Simulator ready", zap.String("sensor", spec.Sensor), zap.Int("pid", proc.Pid()))
			continue
		}
		if ctx.Err() != nil {
			f.setChildState(c, ChildFailed)
			return f.interruptedStartup(out, i), false
		}

		f.setChildState(c, ChildFailed)
		out.Failed = append(out.Failed, spec.Sensor)
		f.logger.Error("Simulator failed to become ready", zap.String("sensor", spec.Sensor), zap.Error(err))
		f.stopChild(c)
		break
	}

	switch {
	case len(out.Failed) == 0:
		return out, true
	case out.Started == 0:
		out.Reason = ReasonNoneReady
	default:
		out.Reason = fmt.Sprintf("started %d/%d failed=[%s]", out.Started, len(sensors), strings.Join(out.Failed, ","))
	}
	out.ExitCode = 1
	return out, false
}

// interruptedStartup fails a run cancelled before every simulator was ready.
// Sensors from index next onward were interrupted or never launched.
func (f *Fleet) interruptedStartup(out Outcome, next int) Outcome {
	for _, spec := range f.opts.Fleet.Sensors[next:] {
		out.Failed = append(out.Failed, spec.Sensor)
	}
	out.Reason = ReasonInterrupted
	out.ExitCode = 1
	f.logger.Warn("Interrupted before the fleet was ready",
		zap.Int("started", out.Started),
		zap.Int("total", len(f.opts.Fleet.Sensors)),
	)
	return out
}

func (f *Fleet) supervise(ctx context.Context, out Outcome) Outcome {
	f.setPhase("running")
	f.logger.Info("All simulators ready", zap.Int("count", out.Started))

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Stopping per user request")
			out.Reason = ReasonInterrupted
			return out
		case <-f.server.Done():
			f.logger.Error("tinyIoT server exited", zap.Int("exit_code", f.server.ExitCode()))
			out.Reason = ReasonServerCrashed
			out.ExitCode = 1
			return out
		case <-ticker.C:
			if f.refreshChildren() == 0 {
				f.logger.Info("All simulators have exited")
				out.Reason = ReasonFleetCompleted
				return out
			}
		}
	}
}

// refreshChildren marks exited children and returns how many still run.
func (f *Fleet) refreshChildren() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	running := 0
	for _, c := range f.children {
		if !Exited(c.proc) {
			running++
			continue
		}
		if c.state == ChildReady || c.state == ChildStarting {
			f.logger.Info("Simulator exited", zap.String("sensor", c.spec.Sensor), zap.Int("exit_code", c.proc.ExitCode()))
			c.state = ChildExited
		}
	}
	f.publishLocked()
	return running
}

func (f *Fleet) teardown() {
	f.setPhase("stopping")

	f.mu.Lock()
	children := append([]*child(nil), f.children...)
	server := f.server
	f.mu.Unlock()

	for _, c := range children {
		f.stopChild(c)
	}

	if server != nil && !Exited(server) {
		f.logger.Info("Terminating tinyIoT server", zap.Int("pid", server.Pid()))
		killed, err := Stop(server, f.opts.ServerTermWait)
		if err != nil {
			f.logger.Warn("Failed to stop server", zap.Error(err))
		}
		if killed {
			f.logger.Warn("Server ignored SIGTERM; killed")
		}
	}
	if server != nil {
		_ = server.Close()
	}
	f.logger.Info("All processes terminated")
}

func (f *Fleet) stopChild(c *child) {
	if !Exited(c.proc) {
		f.logger.Info("Terminating simulator", zap.String("sensor", c.spec.Sensor), zap.Int("pid", c.proc.Pid()))
		killed, err := Stop(c.proc, f.opts.ProcTermWait)
		if err != nil {
			f.logger.Warn("Failed to stop simulator", zap.String("sensor", c.spec.Sensor), zap.Error(err))
		}
		if killed {
			f.logger.Warn("Simulator ignored SIGTERM; killed", zap.String("sensor", c.spec.Sensor))
		}
		f.mu.Lock()
		if c.state != ChildFailed {
			c.state = ChildTerminated
		}
		f.publishLocked()
		f.mu.Unlock()
	}

	if !c.monitor.Wait(f.opts.JoinReaderTimeout) {
		f.logger.Debug("output reader still running", zap.String("sensor", c.spec.Sensor))
	}
	_ = c.proc.Close()
}

func (f *Fleet) simulatorCommand(spec config.SensorSpec) Command {
	args := append([]string(nil), f.opts.SimulatorArgs...)
	args = append(args,
		"--sensor", spec.Sensor,
		"--protocol", spec.Protocol,
		"--mode", spec.Mode,
		"--frequency", strconv.FormatFloat(spec.Frequency, 'g', -1, 64),
		"--registration", strconv.Itoa(spec.Registration),
	)

	keys := make([]string, 0, len(f.opts.Fleet.Env))
	for k := range f.opts.Fleet.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+f.opts.Fleet.Env[k])
	}

	return Command{Name: spec.Sensor, Path: f.opts.SimulatorPath, Args: args, Env: env}
}

func (f *Fleet) addChild(c *child) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children = append(f.children, c)
	f.publishLocked()
}

func (f *Fleet) setChildState(c *child, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.state = state
	f.publishLocked()
}

func (f *Fleet) setPhase(phase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = phase
}

func (f *Fleet) publishLocked() {
	if f.metrics == nil {
		return
	}
	counts := make(map[string]int, len(childStates))
	for _, c := range f.children {
		counts[c.state]++
	}
	for _, s := range childStates {
		f.metrics.SetFleetChildren(s, counts[s])
	}
}

// Status returns a snapshot for the status endpoint.
func (f *Fleet) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := Status{
		Phase:      f.phase,
		Children:   make([]ChildStatus, 0, len(f.children)),
		Configured: len(f.opts.Fleet.Sensors),
	}
	if f.server != nil {
		st.ServerPid = f.server.Pid()
	}
	for _, c := range f.children {
		cs := ChildStatus{
			Sensor:   c.spec.Sensor,
			Protocol: c.spec.Protocol,
			Mode:     c.spec.Mode,
			Pid:      c.proc.Pid(),
			State:    c.state,
			Reason:   c.monitor.Reason(),
		}
		if Exited(c.proc) {
			code := c.proc.ExitCode()
			cs.ExitCode = &code
		}
		st.Children = append(st.Children, cs)
	}
	return st
}
