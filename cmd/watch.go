package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/repositories"
	"github.com/desertthunder/mlsync/internal/scheduler"
	"github.com/desertthunder/mlsync/internal/server"
	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/desertthunder/mlsync/internal/tasks"
	"github.com/desertthunder/mlsync/internal/telemetry"
	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const watchProgressStep = 25

// Watch runs the sync daemon until the process is interrupted.
//
// A sync is queued every interval. A repair request abandons the running sync and jumps the
// queue. Repairs come from --repair, POST /sync?repair=true, or a config edit that changes
// the library scope.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	config := r.Config()

	interval := cmd.Duration("interval")
	fixedInterval := interval > 0
	if !fixedInterval {
		interval = config.Sync.WatchInterval()
	}
	if interval <= 0 {
		return fmt.Errorf("%w: watch interval must be positive", shared.ErrInvalidFlag)
	}
	addr := cmd.String("addr")
	if addr == "" {
		addr = config.Telemetry.MetricsAddr
	}

	db, err := r.database()
	if err != nil {
		return err
	}

	prom, err := telemetry.NewPrometheus()
	if err != nil {
		return err
	}
	defer prom.Shutdown(context.WithoutCancel(ctx))

	metrics, err := telemetry.NewSyncMetrics(prom.Provider)
	if err != nil {
		return err
	}

	d := newDaemon(ctx, r, metrics)
	defer d.stop()

	g, gctx := errgroup.WithContext(ctx)
	if addr != "" {
		handler := d.router(prom.Handler(), repositories.NewRunRepository(db))
		g.Go(func() error { return server.Serve(gctx, addr, handler, d.logger) })
	}

	reloads, err := watchConfig(gctx, r.configPath, d.logger)
	if err != nil {
		d.logger.Warn("config reload disabled", "error", err)
	}

	d.logger.Info("watching library", "interval", interval, "addr", addr)
	g.Go(func() error {
		return d.loop(gctx, interval, fixedInterval, cmd.Bool("repair"), reloads)
	})
	return g.Wait()
}

// daemon queues sync runs on a single-worker scheduler.
type daemon struct {
	runner  *Runner
	sched   *scheduler.Scheduler
	metrics *telemetry.SyncMetrics
	logger  *log.Logger

	mu   sync.Mutex
	runs scheduler.TaskList
}

func newDaemon(ctx context.Context, r *Runner, metrics *telemetry.SyncMetrics) *daemon {
	logger := r.logger.WithPrefix("watch")
	return &daemon{
		runner:  r,
		metrics: metrics,
		logger:  logger,
		sched: scheduler.New(ctx, scheduler.Options{
			Name:         "sync",
			Workers:      1,
			Policy:       scheduler.PollWhenIdle,
			PollInterval: time.Second,
			Logger:       r.logger,
		}),
	}
}

// trigger queues a run. An incremental run is dropped when one is already queued or running.
// A repair run resets the scheduler so it starts as soon as the abandoned run has returned.
func (d *daemon) trigger(repair bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if repair {
		if d.sched.Reset() {
			d.logger.Info("abandoned running sync for repair")
		}
		d.runs.CancelAll()
		t := d.task(true)
		d.runs.Add(t)
		d.sched.SubmitToFront([]*scheduler.Task{t})
		return
	}

	if d.syncing() {
		d.logger.Debug("sync already queued, skipping tick")
		return
	}
	t := d.task(false)
	d.runs.Add(t)
	d.sched.Submit(t)
}

// syncing reports whether a run is queued or running.
func (d *daemon) syncing() bool {
	return d.runs.Len() > 0
}

// task builds a sync run. It starts writing only after every abandoned run has returned, so the
// database never has two sync writers.
func (d *daemon) task(repair bool) *scheduler.Task {
	name := "incremental sync"
	if repair {
		name = "repair sync"
	}

	run := func(ctx context.Context) (*tasks.Result, error) {
		if err := d.sched.WaitAbandoned(ctx); err != nil {
			return nil, err
		}

		opts := syncOptions(d.runner.Config(), repair)
		progress := tasks.NewLogProgress(d.logger, watchProgressStep)
		result, err := d.runner.runSync(ctx, opts, progress, d.metrics, d.logger)
		if err != nil {
			return nil, err
		}
		if result.Canceled {
			return nil, context.Canceled
		}
		if !result.Successful {
			return nil, fmt.Errorf("%w: %s", shared.ErrSyncIncomplete, result.Run.Message)
		}
		return result, nil
	}

	return scheduler.NewFuncTask(name, run, func(result *tasks.Result) {
		d.logger.Info("sync run recorded", "run", result.Run.ID, "repair", repair,
			"written", result.Written, "deleted", result.Deleted)
	})
}

func (d *daemon) loop(ctx context.Context, interval time.Duration, fixed, repair bool, reloads <-chan *shared.Config) error {
	d.trigger(repair)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.trigger(false)
		case config := <-reloads:
			previous := d.runner.Config()
			d.runner.reload(config)
			if next := config.Sync.WatchInterval(); !fixed && next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
			d.logger.Info("config reloaded", "interval", interval)
			if scopeChanged(previous, config) {
				d.logger.Info("library scope changed, queueing repair sync")
				d.trigger(true)
			}
		}
	}
}

// scopeChanged reports whether a config edit changes which items a sync mirrors.
// Watermarks recorded under the old scope are not valid for the new one.
func scopeChanged(old, next *shared.Config) bool {
	if old == nil {
		return true
	}
	return old.Server.URL != next.Server.URL ||
		old.Sync.EnableMusic != next.Sync.EnableMusic ||
		!slices.Equal(old.Sync.Sections, next.Sync.Sections) ||
		!slices.Equal(old.Sync.ExcludeSections, next.Sync.ExcludeSections)
}

func (d *daemon) router(metrics http.Handler, runs server.RunLister) http.Handler {
	router := server.NewBasicRouter()
	router.Use(server.Recover(d.logger), server.Logging(d.logger))
	router.Handle(http.MethodGet, "/metrics", metrics)
	router.Handler(server.NewStatusHandler(runs, d.syncing))
	router.Handler(server.NewSyncHandler(d.trigger))
	return router
}

// stop cancels queued and running syncs and waits for them to return.
func (d *daemon) stop() {
	d.runs.CancelAll()
	d.sched.Shutdown()
}

// watchConfig sends the freshly parsed config whenever the file at path is written.
// Invalid edits are logged and ignored. The channel is nil when path can't be watched.
func watchConfig(ctx context.Context, path string, logger *log.Logger) (<-chan *shared.Config, error) {
	if path == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	reloads := make(chan *shared.Config, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				config, err := shared.LoadConfig(abs)
				if err != nil {
					logger.Warn("ignoring invalid config", "path", abs, "error", err)
					continue
				}
				select {
				case <-reloads:
				default:
				}
				reloads <- config
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return reloads, nil
}
