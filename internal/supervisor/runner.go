package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Output is what a finished subcommand left behind
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Err      error // Start or wait failure other than a non-zero exit
}

// Failed reports whether the subcommand did not exit cleanly
func (o Output) Failed() bool {
	return o.TimedOut || o.Err != nil || o.ExitCode != 0
}

// Process is a long-running child the supervisor keeps alive
type Process interface {
	Pid() int
	Exited() bool
	Terminate(timeout time.Duration) error
}

// Runner spawns stockfeed subcommands
type Runner interface {
	// Run executes a subcommand to completion, killing it after timeout
	Run(ctx context.Context, timeout time.Duration, subcommand string) Output
	// Start launches a subcommand in the background
	Start(subcommand string) (Process, error)
}

// ExecRunner runs subcommands of a stockfeed executable as OS processes
type ExecRunner struct {
	Executable string
	Args       []string // Appended after the subcommand, e.g. config flags
	Dir        string
	Stdout     io.Writer // Output of background processes (default os.Stdout)
	Stderr     io.Writer // default os.Stderr
}

// NewExecRunner returns a runner for executable, or for the running binary
// when executable is empty
func NewExecRunner(executable string, args []string) (*ExecRunner, error) {
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %w", err)
		}
		executable = self
	}
	return &ExecRunner{Executable: executable, Args: args}, nil
}

// ProcessWaitDelay is how long Wait keeps waiting for the output pipes to
// close after the child exits or is killed. A grandchild that inherited the
// pipes holds them open, so Run can take up to timeout + ProcessWaitDelay.
const ProcessWaitDelay = 5 * time.Second

func (r *ExecRunner) args(subcommand string) []string {
	return append([]string{subcommand}, r.Args...)
}

// Run executes the subcommand and collects its output. The child is killed
// once timeout elapses; Run returns within timeout + ProcessWaitDelay.
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, subcommand string) Output {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.Executable, r.args(subcommand)...)
	cmd.Dir = r.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = ProcessWaitDelay

	err := cmd.Run()

	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		if out.ExitCode == 0 {
			out.ExitCode = -1
		}
	default:
		out.Err = err
		if out.ExitCode == 0 {
			out.ExitCode = -1
		}
	}
	return out
}

// Start launches the subcommand in the background with its output attached
// to Stdout and Stderr. The returned Process reports when it has exited.
func (r *ExecRunner) Start(subcommand string) (Process, error) {
	cmd := exec.Command(r.Executable, r.args(subcommand)...)
	cmd.Dir = r.Dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = ProcessWaitDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", subcommand, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate asks the process to stop and kills it when it has not exited
// within timeout
func (p *execProcess) Terminate(timeout time.Duration) error {
	if p.Exited() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Windows has no SIGTERM
		return p.kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return p.kill()
	}
}

func (p *execProcess) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.Pid(), err)
	}
	<-p.done
	return nil
}
