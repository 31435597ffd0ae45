package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrNotStarted is returned when a command cannot be launched.
var ErrNotStarted = errors.New("process not started")

// Command describes a child to launch.
type Command struct {
	// Name identifies the child in logs, e.g. the sensor name or "server".
	Name string
	Path string
	Args []string
	// Env is appended to the coordinator's environment as KEY=VALUE.
	Env []string
	Dir string
	// Inherit sends the child's output straight to the coordinator's
	// stdout and stderr instead of capturing it.
	Inherit bool
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process is a running child.
type Process interface {
	Pid() int
	// Output is the child's combined stdout and stderr. Nil when inherited.
	Output() io.Reader
	// Done is closed once the child has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 when killed by a signal.
	ExitCode() int
	Terminate() error
	Kill() error
	// Close releases the output descriptor.
	Close() error
}

// Launcher starts child processes.
type Launcher interface {
	Start(cmd Command) (Process, error)
}

// ExecLauncher starts children with os/exec, optionally behind a pty so
// line-buffered programs flush every line.
type ExecLauncher struct {
	UsePTY bool
}

// Start launches cmd.
func (l ExecLauncher) Start(c Command) (Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	p := &execProcess{cmd: cmd, done: make(chan struct{}), exitCode: -1}

	switch {
	case c.Inherit:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotStarted, c, err)
		}

	case l.UsePTY:
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotStarted, c, err)
		}
		p.output = ptmx

	default:
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotStarted, c, err)
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
		if err := cmd.Start(); err != nil {
			pr.Close()
			pw.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotStarted, c, err)
		}
		// The child holds its own copy; ours must go for EOF to arrive.
		pw.Close()
		p.output = pr
	}

	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	output *os.File
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
	closed   bool
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()

	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	} else if err == nil {
		code = 0
	}

	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Output() io.Reader {
	if p.output == nil {
		return nil
	}
	return p.output
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *execProcess) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.signal(os.Kill)
}

func (p *execProcess) signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.output == nil {
		return nil
	}
	p.closed = true
	return p.output.Close()
}

// Exited reports whether p has exited without blocking.
func Exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// Stop asks p to terminate, waits up to grace, then kills it. It reports
// whether the kill was needed.
func Stop(p Process, grace time.Duration) (killed bool, err error) {
	if Exited(p) {
		return false, nil
	}
	if err := p.Terminate(); err != nil {
		return false, fmt.Errorf("terminate pid %d: %w", p.Pid(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.Done():
		return false, nil
	case <-timer.C:
	}

	if err := p.Kill(); err != nil {
		return true, fmt.Errorf("kill pid %d: %w", p.Pid(), err)
	}
	select {
	case <-p.Done():
	case <-time.After(grace):
	}
	return true, nil
}
