package supervisor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
)

type fakeProcess struct {
	name string
	pid  int
	r    *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	code int

	ignoreTerm bool
	terminated atomic.Bool
	killed     atomic.Bool
	closed     atomic.Bool
}

func newFakeProcess(name string, pid int, captured bool) *fakeProcess {
	p := &fakeProcess{name: name, pid: pid, done: make(chan struct{}), code: -1}
	if captured {
		p.r, p.w = io.Pipe()
	}
	return p
}

func (p *fakeProcess) say(line string) {
	if p.w != nil {
		_, _ = fmt.Fprintln(p.w, line)
	}
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		if p.w != nil {
			_ = p.w.Close()
		}
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Output() io.Reader {
	if p.r == nil {
		return nil
	}
	return p.r
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProcess) Terminate() error {
	p.terminated.Store(true)
	if !p.ignoreTerm {
		p.exit(-1)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Close() error {
	p.closed.Store(true)
	if p.r != nil {
		return p.r.Close()
	}
	return nil
}

type script func(p *fakeProcess)

type fakeLauncher struct {
	mu        sync.Mutex
	scripts   map[string]script
	stubborn  map[string]bool
	failStart map[string]bool
	procs     map[string]*fakeProcess
	cmds      []Command
	nextPid   int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		scripts:   make(map[string]script),
		stubborn:  make(map[string]bool),
		failStart: make(map[string]bool),
		procs:     make(map[string]*fakeProcess),
		nextPid:   100,
	}
}

func (l *fakeLauncher) Start(cmd Command) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cmds = append(l.cmds, cmd)
	if l.failStart[cmd.Name] {
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, cmd)
	}
	l.nextPid++
	p := newFakeProcess(cmd.Name, l.nextPid, !cmd.Inherit)
	p.ignoreTerm = l.stubborn[cmd.Name]
	l.procs[cmd.Name] = p
	if s, ok := l.scripts[cmd.Name]; ok {
		go s(p)
	}
	return p, nil
}

func (l *fakeLauncher) proc(name string) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[name]
}

func (l *fakeLauncher) started() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.cmds))
	for _, c := range l.cmds {
		names = append(names, c.Name)
	}
	return names
}

func (l *fakeLauncher) command(name string) (Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.cmds {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

type fakeHealth struct {
	err   error
	calls atomic.Int32
}

func (h *fakeHealth) WaitHealthy(ctx context.Context, _, _ time.Duration, _ <-chan struct{}) error {
	h.calls.Add(1)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return h.err
}

func readyLine(sensorName string) string {
	return ReadyMarker(sensorName) + "protocol=mqtt mode=csv"
}

func becomesReady(p *fakeProcess) {
	label := strings.ToUpper(p.name)
	p.say("[" + label + "] AE created")
	p.say(readyLine(p.name))
	p.say("[" + label + "] sent 21.5")
}

func failsRegistration(p *fakeProcess) {
	p.say("[" + strings.ToUpper(p.name) + "] registration failed: create ae rejected (403)")
	p.exit(1)
}

func testOptions(sensors ...string) Options {
	fleet := &config.Fleet{Env: map[string]string{"CSE_HOST": "127.0.0.1", "CSE_PORT": "3000"}}
	for _, s := range sensors {
		fleet.Sensors = append(fleet.Sensors, config.SensorSpec{
			Sensor:       s,
			Protocol:     "mqtt",
			Mode:         "csv",
			Frequency:    1.5,
			Registration: 1,
		})
	}
	return Options{
		Server:            Command{Name: "server", Path: "./server", Inherit: true},
		SimulatorPath:     "./simulator",
		Fleet:             fleet,
		HealthTimeout:     time.Second,
		HealthInterval:    10 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		ReadyTimeout:      time.Second,
		ProcTermWait:      50 * time.Millisecond,
		ServerTermWait:    50 * time.Millisecond,
		JoinReaderTimeout: 100 * time.Millisecond,
	}
}
