package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doridoridoriand/netmon/internal/config"
	"github.com/doridoridoriand/netmon/internal/history"
	"github.com/doridoridoriand/netmon/internal/log"
	"github.com/doridoridoriand/netmon/internal/runner"
	"github.com/doridoridoriand/netmon/internal/state"
	"github.com/doridoridoriand/netmon/internal/target"
)

const saveTimeout = 5 * time.Second

// Scheduler owns the monitored targets and feeds their rounds to the state store.
type Scheduler interface {
	Run(ctx context.Context) error
	UpdateConfig(global config.GlobalOptions, targets []config.TargetConfig) error
	Stop()
}

// Recorder persists completed rounds.
type Recorder interface {
	Save(ctx context.Context, rec history.Record) error
}

// Option customizes the scheduler.
type Option func(*Impl)

// WithLogger sets the logger shared with the targets.
func WithLogger(l *log.Logger) Option {
	return func(s *Impl) { s.logger = l }
}

// WithRecorder stores every round through r.
func WithRecorder(r Recorder) Option {
	return func(s *Impl) { s.recorder = r }
}

// WithRunnerFactory gives every target its own runner from fn.
func WithRunnerFactory(fn func() runner.Runner) Option {
	return func(s *Impl) { s.newRunner = fn }
}

// WithTargetOptions appends options to every target constructed.
func WithTargetOptions(opts ...target.Option) Option {
	return func(s *Impl) { s.targetOpts = append(s.targetOpts, opts...) }
}

type job struct {
	name   string
	group  string
	cfg    target.Config
	tgt    *target.NetworkTarget
	unsub  func()
	cancel context.CancelFunc
}

// Impl provides a default scheduler implementation.
type Impl struct {
	mu     sync.Mutex
	cfg    config.GlobalOptions
	jobs   map[string]*job
	state  state.Store
	cancel context.CancelFunc
	runCtx context.Context
	wg     sync.WaitGroup

	logger     *log.Logger
	recorder   Recorder
	newRunner  func() runner.Runner
	targetOpts []target.Option
}

// NewScheduler builds a target for every definition. Definitions that resolve to the same
// target ID are monitored once; the first one wins.
func NewScheduler(global config.GlobalOptions, targets []config.TargetConfig, store state.Store, opts ...Option) (*Impl, error) {
	s := &Impl{
		cfg:   global,
		jobs:  make(map[string]*job),
		state: store,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}

	jobs, err := s.build(global, targets, nil)
	if err != nil {
		return nil, err
	}
	s.jobs = jobs
	s.state.UpdateTargets(entries(jobs))
	return s, nil
}

// build constructs jobs for targets, reusing entries of reuse whose ID and engine config
// are unchanged.
func (s *Impl) build(global config.GlobalOptions, targets []config.TargetConfig, reuse map[string]*job) (map[string]*job, error) {
	jobs := make(map[string]*job, len(targets))
	for _, tc := range targets {
		cfg, err := tc.EngineConfig()
		if err != nil {
			return nil, err
		}
		id, err := target.IdentityOf(cfg)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", tc.Name, err)
		}
		if existing, ok := jobs[id]; ok {
			s.logger.Warn("duplicate target ignored", map[string]interface{}{
				"name":      tc.Name,
				"duplicate": existing.name,
				"target":    id[:12],
			})
			continue
		}
		if old, ok := reuse[id]; ok && old.cfg == cfg {
			old.name = tc.Name
			old.group = tc.Group
			jobs[id] = old
			continue
		}

		opts := []target.Option{
			target.WithLogger(s.logger.With(map[string]interface{}{"name": tc.Name})),
			target.WithProbeTimeout(global.ProbeTimeout),
		}
		if s.newRunner != nil {
			opts = append(opts, target.WithRunner(s.newRunner()))
		}
		opts = append(opts, s.targetOpts...)

		tgt, err := target.New(cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", tc.Name, err)
		}
		j := &job{name: tc.Name, group: tc.Group, cfg: cfg, tgt: tgt}
		j.unsub = tgt.Subscribe(s.onResult(j))
		jobs[id] = j
	}
	return jobs, nil
}

func entries(jobs map[string]*job) []state.Entry {
	out := make([]state.Entry, 0, len(jobs))
	for id, j := range jobs {
		out = append(out, state.Entry{
			ID:          id,
			Name:        j.name,
			Group:       j.group,
			Type:        string(j.tgt.TargetType()),
			Destination: j.tgt.TargetDestination(),
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Run starts every target and blocks until ctx is cancelled or Stop is called. In-flight
// rounds are still recorded before Run returns.
func (s *Impl) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runCtx = runCtx
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		s.startJob(runCtx, j)
	}

	<-runCtx.Done()

	s.mu.Lock()
	jobs = jobs[:0]
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	s.wg.Wait()
	for _, j := range jobs {
		j.tgt.Stop()
	}
	for _, j := range jobs {
		j.tgt.Wait()
	}

	s.mu.Lock()
	s.cancel = nil
	s.runCtx = nil
	s.mu.Unlock()
	return runCtx.Err()
}

// UpdateConfig applies a new target list. Targets whose ID and settings are unchanged keep
// running with their buffers intact; removed targets stop; new or changed ones start.
func (s *Impl) UpdateConfig(global config.GlobalOptions, targets []config.TargetConfig) error {
	s.mu.Lock()
	jobs, err := s.build(global, targets, s.jobs)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	var toStop, toStart []*job
	for id, old := range s.jobs {
		if jobs[id] != old {
			toStop = append(toStop, old)
		}
	}
	for id, j := range jobs {
		if s.jobs[id] != j {
			toStart = append(toStart, j)
		}
	}
	s.cfg = global
	s.jobs = jobs
	runCtx := s.runCtx
	s.mu.Unlock()

	for _, j := range toStop {
		s.stopJob(j)
	}
	s.state.UpdateTargets(entries(jobs))
	if runCtx == nil {
		return nil
	}
	for _, j := range toStart {
		s.startJob(runCtx, j)
	}
	s.logger.Info("configuration applied", map[string]interface{}{
		"targets": len(jobs),
		"started": len(toStart),
		"stopped": len(toStop),
	})
	return nil
}

// Stop cancels Run.
func (s *Impl) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// startJob starts the target once its destination is known.
func (s *Impl) startJob(ctx context.Context, j *job) {
	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	j.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-jobCtx.Done():
			return
		case <-j.tgt.DestinationReady():
		}
		if j.tgt.TargetDestination() == "" {
			s.logger.Warn("target has no destination, not started", map[string]interface{}{"name": j.name})
			return
		}
		j.tgt.Start()
		// A job stopped while starting must not keep probing.
		if jobCtx.Err() != nil {
			j.tgt.Stop()
		}
	}()
}

func (s *Impl) stopJob(j *job) {
	s.mu.Lock()
	cancel := j.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	j.unsub()
	j.tgt.Stop()
}

func (s *Impl) onResult(j *job) func(target.Result) {
	return func(res target.Result) {
		id := j.tgt.ID()
		s.mu.Lock()
		current := s.jobs[id] == j
		name := j.name
		s.mu.Unlock()
		// Rounds of a job replaced by UpdateConfig are dropped.
		if !current {
			return
		}

		s.state.UpdateResult(j.tgt, res)
		if s.recorder == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		rec := history.Record{
			TargetID:    id,
			Name:        name,
			At:          res.At,
			Error:       res.Error,
			LatencyMS:   res.PingLatencyMS,
			JitterMS:    res.PingJitter,
			LossPercent: res.PacketLoss,
		}
		if err := s.recorder.Save(ctx, rec); err != nil {
			s.logger.LogError("history", err, map[string]interface{}{"name": name})
		}
	}
}
