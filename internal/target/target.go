// Package target monitors one network destination: it schedules ping rounds, smooths
// latency, jitter and loss over a sliding window and reports each round to subscribers.
package target

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doridoridoriand/netmon/internal/gateway"
	"github.com/doridoridoriand/netmon/internal/log"
	"github.com/doridoridoriand/netmon/internal/runner"
	"github.com/doridoridoriand/netmon/internal/stats"
)

const (
	defaultPingBinary = "ping"
	gatewayTimeout    = 10 * time.Second
)

// Option customizes a NetworkTarget.
type Option func(*NetworkTarget)

// WithRunner replaces the process runner used for ping and gateway queries.
func WithRunner(r runner.Runner) Option {
	return func(t *NetworkTarget) { t.runner = r }
}

// WithPlatform selects the ping flavor and gateway query. Defaults to the running OS.
func WithPlatform(p gateway.Platform) Option {
	return func(t *NetworkTarget) { t.platform = p }
}

// WithClock overrides time.Now for peak bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(t *NetworkTarget) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *NetworkTarget) { t.logger = l }
}

// WithPingCommand overrides the ping executable.
func WithPingCommand(binary string) Option {
	return func(t *NetworkTarget) { t.pingBinary = binary }
}

// WithProbeTimeout kills a ping process that runs longer than d. Zero waits forever.
func WithProbeTimeout(d time.Duration) Option {
	return func(t *NetworkTarget) { t.probeTimeout = d }
}

// NetworkTarget is one monitored destination.
type NetworkTarget struct {
	cfg      Config
	id       string
	kind     Type
	capacity int

	runner       runner.Runner
	platform     gateway.Platform
	now          func() time.Time
	logger       *log.Logger
	pingBinary   string
	probeTimeout time.Duration

	mu        sync.Mutex
	dest      destination
	buffers   [metricCount][]float64
	peakTimes [metricCount]time.Time
	listeners map[int]func(Result)
	nextSub   int

	life   sync.Mutex
	cancel context.CancelFunc

	pending   atomic.Bool
	inFlight  atomic.Bool
	destReady chan struct{}
	loop      sync.WaitGroup
	probes    sync.WaitGroup
}

// New validates cfg and builds an idle target. Gateway targets start resolving their
// address in the background; see IsTargetDestinationPending and DestinationReady.
func New(cfg Config, opts ...Option) (*NetworkTarget, error) {
	cfg, dest, err := prepare(cfg)
	if err != nil {
		return nil, err
	}

	t := &NetworkTarget{
		cfg:        cfg,
		id:         identity(dest.kind, dest.value),
		kind:       dest.kind,
		capacity:   cfg.bufferCapacity(),
		platform:   gateway.Current(),
		now:        time.Now,
		pingBinary: defaultPingBinary,
		dest:       dest,
		listeners:  make(map[int]func(Result)),
		destReady:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.runner == nil {
		t.runner = runner.NewProcessRunner()
	}
	if t.logger == nil {
		t.logger = log.Nop()
	}
	t.logger = t.logger.With(map[string]interface{}{"target": t.id[:12]})

	now := t.now()
	for i := range t.peakTimes {
		t.peakTimes[i] = now
	}

	if t.kind == TypeGateway {
		t.pending.Store(true)
		go t.resolveGateway()
	} else {
		close(t.destReady)
	}
	return t, nil
}

// IdentityOf validates cfg like New and returns the ID the target would get, without
// building it or querying the routing table.
func IdentityOf(cfg Config) (string, error) {
	_, dest, err := prepare(cfg)
	if err != nil {
		return "", err
	}
	return identity(dest.kind, dest.value), nil
}

func prepare(cfg Config) (Config, destination, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, destination{}, err
	}
	dest, err := resolveDestination(cfg.Type, cfg.Destination)
	if err != nil {
		return Config{}, destination{}, err
	}
	return cfg, dest, nil
}

func (t *NetworkTarget) resolveGateway() {
	defer func() {
		t.pending.Store(false)
		close(t.destReady)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), gatewayTimeout)
	defer cancel()
	addr, err := gateway.Resolve(ctx, t.platform, t.runner)
	if err != nil {
		t.logger.Warn("gateway resolution failed", map[string]interface{}{"error": err.Error(), "platform": string(t.platform)})
		return
	}
	dest, err := gatewayDestination(addr)
	if err != nil {
		t.logger.Warn("gateway address rejected", map[string]interface{}{"error": err.Error()})
		return
	}
	t.mu.Lock()
	t.dest = dest
	t.mu.Unlock()
	t.logger.Info("gateway resolved", map[string]interface{}{"gateway": dest.value})
}

// ID is the SHA-256 hex digest of the effective type and destination.
func (t *NetworkTarget) ID() string { return t.id }

func (t *NetworkTarget) PingCount() int { return t.cfg.PingCount }

// TolerableLoss is the loss limit in percent.
func (t *NetworkTarget) TolerableLoss() float64 { return t.cfg.LossLimit }

func (t *NetworkTarget) PacketSize() int { return t.cfg.PacketSize }

func (t *NetworkTarget) PingInterval() time.Duration { return t.cfg.PingInterval }

func (t *NetworkTarget) PingPeriod() time.Duration { return t.cfg.PingPeriod }

func (t *NetworkTarget) PeakExpiration() time.Duration { return t.cfg.PeakExpiration }

// ExpectedLatency is the latency alert threshold in milliseconds.
func (t *NetworkTarget) ExpectedLatency() float64 { return t.cfg.ExpectedLatency }

// ExpectedJitter is the jitter alert threshold in milliseconds.
func (t *NetworkTarget) ExpectedJitter() float64 { return t.cfg.ExpectedJitter }

// BufferCapacity is the number of rounds kept per metric.
func (t *NetworkTarget) BufferCapacity() int { return t.capacity }

// TargetType is the effective type; cable modem targets report ipv4.
func (t *NetworkTarget) TargetType() Type { return t.kind }

// TargetDestination is the resolved destination, empty while a gateway is unresolved or
// when resolution failed.
func (t *NetworkTarget) TargetDestination() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dest.value
}

// IsTargetDestinationPending is true until gateway resolution has finished.
func (t *NetworkTarget) IsTargetDestinationPending() bool {
	return t.pending.Load()
}

// DestinationReady is closed once the destination is final.
func (t *NetworkTarget) DestinationReady() <-chan struct{} {
	return t.destReady
}

// IsBufferFilled reports whether the metric's window holds a full set of rounds.
func (t *NetworkTarget) IsBufferFilled(m Metric) bool {
	i := m.index()
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffers[i]) >= t.capacity
}

// IsPeakExpired reports whether the peak of m has not been refreshed within the
// configured expiration.
func (t *NetworkTarget) IsPeakExpired(m Metric) bool {
	i := m.index()
	t.mu.Lock()
	last := t.peakTimes[i]
	t.mu.Unlock()
	return t.now().Sub(last) > t.cfg.PeakExpiration
}

// UpdatePeakTime marks the peak of m as refreshed now.
func (t *NetworkTarget) UpdatePeakTime(m Metric) {
	i := m.index()
	now := t.now()
	t.mu.Lock()
	t.peakTimes[i] = now
	t.mu.Unlock()
}

// IsAlertActive reports whether every bit of mask is enabled for this target.
func (t *NetworkTarget) IsAlertActive(mask AlertMask) bool {
	return mask&t.cfg.AlertMask == mask
}

// Subscribe registers fn for every completed round. fn runs on the probe goroutine and
// must not block for long. The returned func removes the subscription.
func (t *NetworkTarget) Subscribe(fn func(Result)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.listeners[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Start clears the buffers and peak timestamps and begins probing every PingPeriod,
// starting immediately. Calling Start on a running target restarts it.
func (t *NetworkTarget) Start() {
	t.life.Lock()
	defer t.life.Unlock()
	t.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	now := t.now()
	t.mu.Lock()
	for i := range t.buffers {
		t.buffers[i] = nil
		t.peakTimes[i] = now
	}
	t.mu.Unlock()

	t.logger.Info("target started", map[string]interface{}{
		"period":   t.cfg.PingPeriod.String(),
		"capacity": t.capacity,
	})
	t.loop.Add(1)
	go t.schedule(ctx)
}

// Stop cancels the schedule. A probe already in flight still completes and is reported.
func (t *NetworkTarget) Stop() {
	t.life.Lock()
	defer t.life.Unlock()
	t.stopLocked()
}

func (t *NetworkTarget) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.cancel = nil
	t.loop.Wait()
	t.logger.Info("target stopped", nil)
}

// Running reports whether the schedule is armed.
func (t *NetworkTarget) Running() bool {
	t.life.Lock()
	defer t.life.Unlock()
	return t.cancel != nil
}

// Wait blocks until an in-flight probe, if any, has been reported. Call it after Stop.
func (t *NetworkTarget) Wait() {
	t.probes.Wait()
}

func (t *NetworkTarget) schedule(ctx context.Context) {
	defer t.loop.Done()

	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer ticker.Stop()

	t.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick launches a probe unless one is still outstanding or there is nothing to ping.
func (t *NetworkTarget) tick() {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.logger.Debug("probe still in flight, skipping round", nil)
		return
	}
	t.mu.Lock()
	dest := t.dest
	t.mu.Unlock()
	if dest.host == "" {
		t.inFlight.Store(false)
		t.logger.Debug("no destination, skipping round", nil)
		return
	}

	t.probes.Add(1)
	go func() {
		defer t.probes.Done()
		defer t.inFlight.Store(false)
		t.probe(dest)
	}()
}

func (t *NetworkTarget) probe(dest destination) {
	command, args := pingCommand(t.platform, t.pingBinary, t.cfg, dest)
	var opts []runner.Option
	if t.probeTimeout > 0 {
		opts = append(opts, runner.WithTimeout(t.probeTimeout))
	}

	completion := runner.Completion{Output: "probe not started"}
	done, err := t.runner.Run(context.Background(), command, args, opts...)
	if err != nil {
		completion.Output = err.Error()
	} else {
		completion = <-done
	}
	if !completion.Valid {
		t.logger.Debug("probe transport error", map[string]interface{}{"output": completion.Output})
	}

	t.emit(t.applyRound(completion))
}

// applyRound folds one completed probe into the sliding buffers and returns the filtered
// values. A buffer that was already full before the round loses its oldest entry, whether
// or not the round produced a value for it.
func (t *NetworkTarget) applyRound(c runner.Completion) Result {
	var values RoundValues
	failed := true
	if c.Valid {
		round := ParsePingOutput(c.Output)
		if round.Total() > 0 {
			failed = false
			values = round.Values()
		}
	}

	t.mu.Lock()
	var evict [metricCount]bool
	var filtered [metricCount]float64
	for i := range t.buffers {
		evict[i] = len(t.buffers[i]) >= t.capacity
		if v := values.get(Metric(i)); v != nil {
			t.buffers[i] = append(t.buffers[i], *v)
		}
		filtered[i] = stats.ComputeAVT(t.buffers[i])
		if evict[i] && len(t.buffers[i]) > 0 {
			t.buffers[i] = append(t.buffers[i][:0], t.buffers[i][1:]...)
		}
	}
	t.mu.Unlock()

	res := Result{
		Sender:        t,
		Error:         failed,
		PacketLoss:    filtered[MetricLoss],
		PingLatencyMS: filtered[MetricLatency],
		PingJitter:    filtered[MetricJitter],
		At:            t.now(),
	}
	t.logger.LogProbeResult(t.id, res.Error, res.PingLatencyMS, res.PingJitter, res.PacketLoss)
	return res
}

func (t *NetworkTarget) emit(res Result) {
	t.mu.Lock()
	listeners := make([]func(Result), 0, len(t.listeners))
	for i := 0; i < t.nextSub; i++ {
		if fn, ok := t.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}

// Window returns a copy of the raw per-round values currently buffered for m.
func (t *NetworkTarget) Window(m Metric) []float64 {
	i := m.index()
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.buffers[i]...)
}
