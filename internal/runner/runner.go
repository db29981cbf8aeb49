package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInvalidArgument is returned when a run cannot be started.
var ErrInvalidArgument = errors.New("invalid argument")

const waitDelay = time.Second

// Completion is delivered once per run when the process exits.
type Completion struct {
	Valid  bool
	Output string
	Sender Runner
}

// Runner executes an external command and reports its combined result asynchronously.
// A Runner accepts one run at a time.
type Runner interface {
	Run(ctx context.Context, command string, args []string, opts ...Option) (<-chan Completion, error)
	Pending() bool
}

// Option customizes a single run.
type Option func(*runOptions)

type runOptions struct {
	dir     string
	env     []string
	timeout time.Duration
}

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(o *runOptions) { o.dir = dir }
}

// WithEnv appends KEY=value pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(o *runOptions) { o.env = append(o.env, env...) }
}

// WithTimeout kills the process once d elapses. Zero disables the watchdog.
func WithTimeout(d time.Duration) Option {
	return func(o *runOptions) { o.timeout = d }
}

// ProcessRunner runs commands as OS processes.
type ProcessRunner struct {
	pending atomic.Bool

	mu      sync.Mutex
	command string
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	failed  bool
}

// NewProcessRunner returns an idle runner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Pending reports whether a run is still waiting for its process to exit.
func (r *ProcessRunner) Pending() bool {
	return r.pending.Load()
}

// Run starts command with args. The returned channel yields exactly one Completion and
// is then closed. Output is stdout when the run is valid and stderr otherwise.
func (r *ProcessRunner) Run(ctx context.Context, command string, args []string, opts ...Option) (<-chan Completion, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidArgument)
	}
	for i, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return nil, fmt.Errorf("%w: argument %d contains NUL", ErrInvalidArgument, i)
		}
	}
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	for i, kv := range o.env {
		if strings.ContainsRune(kv, 0) || !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("%w: env option %d is not KEY=value", ErrInvalidArgument, i)
		}
	}
	if !r.pending.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: run already pending", ErrInvalidArgument)
	}

	r.mu.Lock()
	r.command = command
	r.stdout.Reset()
	r.stderr.Reset()
	r.failed = false
	r.mu.Unlock()

	done := make(chan Completion, 1)
	go r.execute(ctx, command, args, o, done)
	return done, nil
}

func (r *ProcessRunner) execute(ctx context.Context, command string, args []string, o runOptions, done chan<- Completion) {
	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = o.dir
	if len(o.env) > 0 {
		cmd.Env = append(cmd.Environ(), o.env...)
	}

	cmd.Stdout = chunkWriter{r: r}
	cmd.Stderr = chunkWriter{r: r, isErr: true}
	if o.timeout > 0 {
		// Children that inherited the pipes must not hold the run open after a kill.
		cmd.WaitDelay = waitDelay
	}

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && runCtx.Err() == nil {
		// ping exits non-zero on packet loss; the output is still meaningful.
		err = nil
	}
	r.finish(err, done)
}

// chunkWriter appends process output chunks to the runner's buffers.
type chunkWriter struct {
	r     *ProcessRunner
	isErr bool
}

func (w chunkWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	if w.isErr {
		if len(p) > 0 {
			w.r.failed = true
		}
		return w.r.stderr.Write(p)
	}
	return w.r.stdout.Write(p)
}

func (r *ProcessRunner) finish(err error, done chan<- Completion) {
	r.mu.Lock()
	if err != nil {
		r.failed = true
		if r.stderr.Len() > 0 {
			r.stderr.WriteByte('\n')
		}
		r.stderr.WriteString(err.Error())
	}
	r.pending.Store(false)
	valid := r.command != "" && !r.failed
	output := r.stderr.String()
	if valid {
		output = r.stdout.String()
	}
	r.mu.Unlock()

	done <- Completion{Valid: valid, Output: output, Sender: r}
	close(done)
}
