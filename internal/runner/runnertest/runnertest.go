// Package runnertest provides an in-memory runner.Runner for tests.
package runnertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/doridoridoriand/netmon/internal/runner"
)

// Call records one Run invocation.
type Call struct {
	Command string
	Args    []string
}

// Response is what a scripted run reports on completion.
type Response struct {
	Valid  bool
	Output string
}

// Runner replays scripted responses. When Hold is set, each run blocks until Release is
// called, which lets tests observe in-flight behavior.
type Runner struct {
	mu        sync.Mutex
	responses []Response
	fallback  Response
	calls     []Call
	hold      bool
	release   chan struct{}
	pending   atomic.Bool
}

// New returns a runner that answers with responses in order, then with the last one.
func New(responses ...Response) *Runner {
	r := &Runner{responses: responses, release: make(chan struct{})}
	if len(responses) > 0 {
		r.fallback = responses[len(responses)-1]
	}
	return r
}

// Hold makes subsequent runs wait for Release.
func (r *Runner) Hold() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold = true
	r.release = make(chan struct{})
}

// Release completes held runs and stops holding.
func (r *Runner) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hold {
		r.hold = false
		close(r.release)
	}
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Pending reports whether a run has not completed yet.
func (r *Runner) Pending() bool {
	return r.pending.Load()
}

// Run implements runner.Runner.
func (r *Runner) Run(ctx context.Context, command string, args []string, opts ...runner.Option) (<-chan runner.Completion, error) {
	if command == "" {
		return nil, fmt.Errorf("%w: empty command", runner.ErrInvalidArgument)
	}
	if !r.pending.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: run already pending", runner.ErrInvalidArgument)
	}

	r.mu.Lock()
	r.calls = append(r.calls, Call{Command: command, Args: append([]string(nil), args...)})
	resp := r.fallback
	if len(r.responses) > 0 {
		resp = r.responses[0]
		r.responses = r.responses[1:]
	}
	hold, release := r.hold, r.release
	r.mu.Unlock()

	done := make(chan runner.Completion, 1)
	go func() {
		if hold {
			<-release
		}
		r.pending.Store(false)
		done <- runner.Completion{Valid: resp.Valid, Output: resp.Output, Sender: r}
		close(done)
	}()
	return done, nil
}
