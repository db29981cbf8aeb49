package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/doridoridoriand/netmon/internal/config"
	"github.com/doridoridoriand/netmon/internal/gateway"
	"github.com/doridoridoriand/netmon/internal/history"
	"github.com/doridoridoriand/netmon/internal/runner"
	"github.com/doridoridoriand/netmon/internal/runner/runnertest"
	"github.com/doridoridoriand/netmon/internal/state"
	"github.com/doridoridoriand/netmon/internal/target"
)

const pingOutput = `64 bytes from 192.0.2.1: icmp_seq=1 ttl=64 time=10.0 ms
64 bytes from 192.0.2.1: icmp_seq=2 ttl=64 time=12.0 ms
64 bytes from 192.0.2.1: icmp_seq=3 ttl=64 time=11.0 ms
`

const netstatOutput = `Kernel IP routing table
Destination     Gateway         Genmask         Flags   MSS Window  irtt Iface
0.0.0.0         192.0.2.254     0.0.0.0         UG        0 0          0 eth0
`

// fleet hands out one scripted runner per target and remembers them.
type fleet struct {
	mu        sync.Mutex
	responses []runnertest.Response
	runners   []*runnertest.Runner
}

func newFleet(responses ...runnertest.Response) *fleet {
	if len(responses) == 0 {
		responses = []runnertest.Response{{Valid: true, Output: pingOutput}}
	}
	return &fleet{responses: responses}
}

func (f *fleet) New() runner.Runner {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := runnertest.New(f.responses...)
	f.runners = append(f.runners, r)
	return r
}

type memRecorder struct {
	mu   sync.Mutex
	recs []history.Record
	err  error
}

func (m *memRecorder) Save(ctx context.Context, rec history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func tc(name, kind, dest string) config.TargetConfig {
	return config.TargetConfig{Name: name, Type: kind, Destination: dest, Options: map[string]string{config.OptPingCount: "3"}}
}

func newTestScheduler(t *testing.T, targets []config.TargetConfig, f *fleet, opts ...Option) (*Impl, *state.StoreImpl) {
	t.Helper()
	store := state.NewStore(nil)
	opts = append([]Option{
		WithRunnerFactory(f.New),
		WithTargetOptions(target.WithPlatform(gateway.Linux)),
	}, opts...)
	s, err := NewScheduler(config.DefaultGlobalOptions(), targets, store, opts...)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s, store
}

func runScheduler(t *testing.T, s *Impl) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return cancel, errCh
}

func waitRounds(t *testing.T, store *state.StoreImpl, id string, n int) state.TargetStatus {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if status, ok := store.GetTargetStatus(id); ok && status.Rounds >= n {
			return status
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %d rounds of %s", n, id)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func jobIDs(s *Impl) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.jobs))
	for id, j := range s.jobs {
		out[j.name] = id
	}
	return out
}

func TestSchedulerProbesAllTargets(t *testing.T) {
	rec := &memRecorder{}
	s, store := newTestScheduler(t, []config.TargetConfig{
		tc("a", "ipv4", "192.0.2.1"),
		tc("b", "ipv6", "2001:db8::1"),
	}, newFleet(), WithRecorder(rec))

	ids := jobIDs(s)
	if len(ids) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(ids))
	}
	if len(store.GetSnapshot()) != 2 {
		t.Fatalf("expected store seeded with targets")
	}

	cancel, errCh := runScheduler(t, s)
	for _, id := range ids {
		status := waitRounds(t, store, id, 1)
		if status.Status != state.StatusOK || status.Latency.Value != 11 {
			t.Fatalf("unexpected status %+v", status)
		}
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rec.count() < 2 {
		t.Fatalf("expected rounds to be recorded, got %d", rec.count())
	}
}

func TestSchedulerDeduplicatesByID(t *testing.T) {
	s, store := newTestScheduler(t, []config.TargetConfig{
		tc("modem", "cable_modem", ""),
		tc("modem-ip", "ipv4", "192.168.100.1"),
		tc("dup", "ipv4", "192.0.2.1"),
		tc("dup-again", "ipv4", "192.0.2.1"),
	}, newFleet())

	ids := jobIDs(s)
	if len(ids) != 2 {
		t.Fatalf("expected 2 unique targets, got %v", ids)
	}
	if _, ok := ids["modem"]; !ok {
		t.Fatalf("first definition must win, got %v", ids)
	}
	if _, ok := ids["dup"]; !ok {
		t.Fatalf("first definition must win, got %v", ids)
	}
	if len(store.GetSnapshot()) != 2 {
		t.Fatalf("store must hold unique targets only")
	}
}

func TestSchedulerRejectsInvalidTarget(t *testing.T) {
	_, err := NewScheduler(config.DefaultGlobalOptions(), []config.TargetConfig{
		tc("bad", "ipv4", "not-an-ip"),
	}, state.NewStore(nil))
	if !errors.Is(err, target.ErrRange) {
		t.Fatalf("expected ErrRange, got %v", err)
	}
}

func TestSchedulerStartsGatewayAfterResolution(t *testing.T) {
	f := newFleet(
		runnertest.Response{Valid: true, Output: netstatOutput},
		runnertest.Response{Valid: true, Output: pingOutput},
	)
	s, store := newTestScheduler(t, []config.TargetConfig{tc("router", "gateway", "")}, f)

	cancel, errCh := runScheduler(t, s)
	defer func() {
		cancel()
		<-errCh
	}()

	id := jobIDs(s)["router"]
	status := waitRounds(t, store, id, 1)
	if status.Destination != "192.0.2.254" {
		t.Fatalf("expected resolved gateway destination, got %q", status.Destination)
	}
	calls := f.runners[0].Calls()
	if len(calls) < 2 || calls[0].Command != "netstat" || calls[1].Command != "ping" {
		t.Fatalf("expected netstat then ping, got %+v", calls)
	}
	if got := calls[1].Args[len(calls[1].Args)-1]; got != "192.0.2.254" {
		t.Fatalf("expected ping to gateway, got %q", got)
	}
}

func TestSchedulerSkipsUnresolvedGateway(t *testing.T) {
	f := newFleet(runnertest.Response{Valid: false, Output: "netstat: not found"})
	s, store := newTestScheduler(t, []config.TargetConfig{tc("router", "gateway", "")}, f)

	cancel, errCh := runScheduler(t, s)
	id := jobIDs(s)["router"]

	s.mu.Lock()
	tgt := s.jobs[id].tgt
	s.mu.Unlock()
	<-tgt.DestinationReady()
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-errCh
	if tgt.Running() {
		t.Fatalf("target without destination must not be started")
	}
	if status, _ := store.GetTargetStatus(id); status.Rounds != 0 {
		t.Fatalf("expected no rounds, got %d", status.Rounds)
	}
}

func TestSchedulerBuildsOnlyAdoptedTargets(t *testing.T) {
	f := newFleet(runnertest.Response{Valid: true, Output: netstatOutput})
	defs := []config.TargetConfig{
		tc("router", "gateway", ""),
		tc("router-again", "gateway", ""),
	}
	s, _ := newTestScheduler(t, defs, f)

	id := jobIDs(s)["router"]
	s.mu.Lock()
	first := s.jobs[id].tgt
	s.mu.Unlock()
	<-first.DestinationReady()

	for i := 0; i < 2; i++ {
		if err := s.UpdateConfig(config.DefaultGlobalOptions(), defs); err != nil {
			t.Fatalf("UpdateConfig: %v", err)
		}
	}

	f.mu.Lock()
	runners := append([]*runnertest.Runner(nil), f.runners...)
	f.mu.Unlock()
	if len(runners) != 1 {
		t.Fatalf("expected one target built, got %d", len(runners))
	}
	queries := 0
	for _, call := range runners[0].Calls() {
		if call.Command == "netstat" {
			queries++
		}
	}
	if queries != 1 {
		t.Fatalf("expected one routing table query, got %d", queries)
	}
}

func TestSchedulerUpdateConfig(t *testing.T) {
	s, store := newTestScheduler(t, []config.TargetConfig{
		tc("keep", "ipv4", "192.0.2.1"),
		tc("drop", "ipv4", "192.0.2.2"),
	}, newFleet())

	cancel, errCh := runScheduler(t, s)
	defer func() {
		cancel()
		<-errCh
	}()

	before := jobIDs(s)
	waitRounds(t, store, before["keep"], 1)
	waitRounds(t, store, before["drop"], 1)

	s.mu.Lock()
	keptJob := s.jobs[before["keep"]]
	droppedTarget := s.jobs[before["drop"]].tgt
	s.mu.Unlock()

	err := s.UpdateConfig(config.DefaultGlobalOptions(), []config.TargetConfig{
		tc("kept-renamed", "ipv4", "192.0.2.1"),
		tc("new", "uri", "example.com"),
	})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	after := jobIDs(s)
	if len(after) != 2 {
		t.Fatalf("expected 2 jobs, got %v", after)
	}
	s.mu.Lock()
	sameJob := s.jobs[before["keep"]] == keptJob
	s.mu.Unlock()
	if !sameJob {
		t.Fatalf("unchanged target must keep its job")
	}
	if droppedTarget.Running() {
		t.Fatalf("removed target must be stopped")
	}
	if _, ok := store.GetTargetStatus(before["drop"]); ok {
		t.Fatalf("removed target must leave the store")
	}
	status, _ := store.GetTargetStatus(before["keep"])
	if status.Name != "kept-renamed" || status.Rounds < 1 {
		t.Fatalf("kept target must keep state and take the new name, got %+v", status)
	}
	waitRounds(t, store, after["new"], 1)
}

func TestSchedulerUpdateConfigRestartsChangedTarget(t *testing.T) {
	s, _ := newTestScheduler(t, []config.TargetConfig{tc("a", "ipv4", "192.0.2.1")}, newFleet())
	id := jobIDs(s)["a"]
	s.mu.Lock()
	old := s.jobs[id]
	s.mu.Unlock()

	changed := tc("a", "ipv4", "192.0.2.1")
	changed.Options[config.OptExpectedLatency] = "80"
	if err := s.UpdateConfig(config.DefaultGlobalOptions(), []config.TargetConfig{changed}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	s.mu.Lock()
	replaced := s.jobs[id] != old
	s.mu.Unlock()
	if !replaced {
		t.Fatalf("changed settings must replace the job")
	}
}

func TestSchedulerUpdateConfigKeepsStateOnError(t *testing.T) {
	s, _ := newTestScheduler(t, []config.TargetConfig{tc("a", "ipv4", "192.0.2.1")}, newFleet())
	before := jobIDs(s)
	if err := s.UpdateConfig(config.DefaultGlobalOptions(), []config.TargetConfig{tc("b", "ipv6", "192.0.2.1")}); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
	after := jobIDs(s)
	if len(after) != 1 || after["a"] != before["a"] {
		t.Fatalf("rejected update must not change jobs, got %v", after)
	}
}

func TestSchedulerRunTwice(t *testing.T) {
	s, _ := newTestScheduler(t, []config.TargetConfig{tc("a", "ipv4", "192.0.2.1")}, newFleet())
	cancel, errCh := runScheduler(t, s)
	defer func() {
		cancel()
		<-errCh
	}()

	deadline := time.After(time.Second)
	for {
		s.mu.Lock()
		running := s.cancel != nil
		s.mu.Unlock()
		if running {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("scheduler did not start")
		case <-time.After(time.Millisecond):
		}
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected error for second Run")
	}
}

func TestSchedulerStopStopsTargets(t *testing.T) {
	s, store := newTestScheduler(t, []config.TargetConfig{tc("a", "ipv4", "192.0.2.1")}, newFleet())
	_, errCh := runScheduler(t, s)
	id := jobIDs(s)["a"]
	waitRounds(t, store, id, 1)

	s.Stop()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	s.mu.Lock()
	tgt := s.jobs[id].tgt
	s.mu.Unlock()
	if tgt.Running() {
		t.Fatalf("Stop must stop targets")
	}
}

func TestSchedulerRecorderErrorsAreLogged(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	s, store := newTestScheduler(t, []config.TargetConfig{tc("a", "ipv4", "192.0.2.1")}, newFleet(), WithRecorder(rec))
	cancel, errCh := runScheduler(t, s)
	waitRounds(t, store, jobIDs(s)["a"], 1)
	cancel()
	<-errCh
	if rec.count() == 0 {
		t.Fatalf("expected Save to be attempted")
	}
}
