package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/doridoridoriand/netmon/internal/cli"
	"github.com/doridoridoriand/netmon/internal/config"
	"github.com/doridoridoriand/netmon/internal/history"
	"github.com/doridoridoriand/netmon/internal/log"
	"github.com/doridoridoriand/netmon/internal/metrics"
	"github.com/doridoridoriand/netmon/internal/scheduler"
	"github.com/doridoridoriand/netmon/internal/state"
	"github.com/doridoridoriand/netmon/internal/ui"
)

const (
	version        = "0.1.0"
	pruneInterval  = time.Hour
	exitUsage      = 2
	exitConfig     = 1
	exitRuntimeErr = 1
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, err := cli.Parse("netmon", args, stderr)
	if err != nil {
		return exitUsage
	}
	if flags.Version {
		fmt.Fprintf(stdout, "netmon version %s\n", version)
		return 0
	}

	overrides := flags.Overrides()
	parser := config.NetmonParser{}
	cfg, err := parser.LoadConfig(flags.ConfigPath, overrides)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitConfig
	}

	logger, err := newLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open log: %v\n", err)
		return exitConfig
	}
	defer logger.Sync()
	logger.LogConfigLoad(true, flags.ConfigPath, nil)

	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.LogError("startup", err, nil)
		fmt.Fprintf(stderr, "failed to start: %v\n", err)
		return exitRuntimeErr
	}
	defer app.close()

	reloadCh := make(chan struct{}, 1)
	stopWatch := watchReload(reloadCh)
	defer stopWatch()
	go app.reloadLoop(ctx, reloadCh, flags.ConfigPath, func() (*config.Config, error) {
		return parser.LoadConfig(flags.ConfigPath, overrides)
	})

	if err := app.run(ctx, cancel); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitRuntimeErr
	}
	return 0
}

// newLogger picks the log sink. The TUI owns the terminal, so without a log directory
// an interactive session logs nothing.
func newLogger(global config.GlobalOptions) (*log.Logger, error) {
	level := log.ParseLevel(global.LogLevel)
	if global.LogDir != "" {
		return log.NewFileLogger(level, global.LogDir)
	}
	if !global.UIDisable {
		return log.Nop(), nil
	}
	return log.NewLogger(level), nil
}

type app struct {
	cfg    *config.Config
	logger *log.Logger
	store  *state.StoreImpl
	db     *history.DB
	sched  *scheduler.Impl
}

func newApp(cfg *config.Config, logger *log.Logger, extra ...scheduler.Option) (*app, error) {
	a := &app{cfg: cfg, logger: logger, store: state.NewStore(nil)}

	opts := []scheduler.Option{scheduler.WithLogger(logger)}
	if cfg.Global.HistoryPath != "" {
		db, err := history.New(cfg.Global.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		a.db = db
		opts = append(opts, scheduler.WithRecorder(db))
	}
	opts = append(opts, extra...)

	sched, err := scheduler.NewScheduler(cfg.Global, cfg.Targets, a.store, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.sched = sched
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.LogError("history", err, nil)
		}
	}
}

// run blocks until ctx is cancelled or the UI exits, then waits for the background
// services to drain.
func (a *app) run(ctx context.Context, cancel context.CancelFunc) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
			cancel()
		}
	}()

	if a.cfg.Global.MetricsListen != "" {
		var reader metrics.HistoryReader
		if a.db != nil {
			reader = a.db
		}
		server := metrics.NewServer(a.store, reader)
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("metrics listening", map[string]interface{}{"addr": a.cfg.Global.MetricsListen})
			if err := metrics.Serve(ctx, a.cfg.Global.MetricsListen, server.Router()); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("metrics: %w", err)
				cancel()
			}
		}()
	}

	if a.db != nil && a.cfg.Global.HistoryRetention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.db.Retain(ctx, a.cfg.Global.HistoryRetention, pruneInterval, a.logger)
		}()
	}

	a.logger.Info("monitoring started", map[string]interface{}{"targets": len(a.cfg.Targets)})
	if a.cfg.Global.UIDisable {
		<-ctx.Done()
	} else {
		err := ui.New(a.cfg.Global, a.store).Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.LogError("ui", err, nil)
			errCh <- fmt.Errorf("ui: %w", err)
		}
		cancel()
	}

	wg.Wait()
	a.logger.Info("monitoring stopped", nil)
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// reloadLoop re-reads the configuration on every request. A file that fails to load
// leaves the running configuration in place.
func (a *app) reloadLoop(ctx context.Context, reloadCh <-chan struct{}, path string, load func() (*config.Config, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reloadCh:
		}
		cfg, err := load()
		if err != nil {
			a.logger.LogConfigLoad(false, path, err)
			continue
		}
		if err := a.sched.UpdateConfig(cfg.Global, cfg.Targets); err != nil {
			a.logger.LogError("reload", err, nil)
			continue
		}
		if cfg.Global.MetricsListen != a.cfg.Global.MetricsListen || cfg.Global.HistoryPath != a.cfg.Global.HistoryPath {
			a.logger.Warn("listen and history settings apply on restart", nil)
		}
		a.logger.LogConfigLoad(true, path, nil)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// watchReload turns SIGHUP into reload requests until the returned func is called.
func watchReload(reloadCh chan<- struct{}) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				requestReload(reloadCh)
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// requestReload never blocks; a pending request already covers this one.
func requestReload(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
