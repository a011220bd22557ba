package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/repositories"
	"github.com/desertthunder/mlsync/internal/services"
	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/desertthunder/mlsync/internal/tasks"
	"github.com/desertthunder/mlsync/internal/telemetry"
	"github.com/urfave/cli/v3"
)

const sessionPollInterval = 5 * time.Second

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and media server client are created on first use so commands that need
// neither (setup config) never touch them.
type Runner struct {
	mu         sync.RWMutex
	config     *shared.Config
	configPath string
	server     services.MediaServer
	ownsServer bool
	httpClient *http.Client
	db         *sql.DB
	ownsDB     bool
	logger     *log.Logger
	output     io.Writer
	closers    []io.Closer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Server     services.MediaServer
	HTTPClient *http.Client
	DB         *sql.DB
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		server:     opts.Server,
		httpClient: opts.HTTPClient,
		db:         opts.DB,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, syncCommand, watchCommand, sectionsCommand, statusCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// configure runs before every command: it loads the config file named by --config when it
// exists and applies the log settings.
func (r *Runner) configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	r.configPath = path

	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.setConfig(config)
	} else {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}

	config := r.Config()
	if config.Log.File != "" {
		logger, closer := shared.NewFileLogger(config.Log)
		r.logger = logger
		r.closers = append(r.closers, closer)
	}
	level := shared.ParseLogLevel(config.Log.Level)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)
	return ctx, nil
}

// Config is the active configuration. The watch daemon swaps it on reload.
func (r *Runner) Config() *shared.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

func (r *Runner) setConfig(config *shared.Config) {
	r.mu.Lock()
	r.config = config
	r.mu.Unlock()
}

// reload swaps in a new config. A server client built from the old config is dropped so
// the next run picks up URL and credential changes.
func (r *Runner) reload(config *shared.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
	if r.ownsServer {
		r.server = nil
		r.ownsServer = false
	}
}

// database opens the configured database and applies pending migrations.
func (r *Runner) database() (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return r.db, nil
	}

	cfg := r.config.Database
	db, err := shared.OpenDatabase(cfg.Path, cfg.BusyTimeoutMS)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	r.db = db
	r.ownsDB = true
	return db, nil
}

// mediaServer returns the injected server, or a Plex client built from the config.
func (r *Runner) mediaServer(ctx context.Context) services.MediaServer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.server != nil {
		return r.server
	}

	client := r.httpClient
	if client == nil {
		client = services.NewHTTPClient(ctx, r.config.Server)
	}
	r.server = services.NewPlexClient(r.config.Server.URL, r.config.Server.Token, client)
	r.ownsServer = true
	return r.server
}

// syncOptions maps the config onto engine options.
func syncOptions(config *shared.Config, repair bool) tasks.Options {
	return tasks.Options{
		Repair:        repair,
		Workers:       config.Sync.Workers,
		BatchSize:     config.Sync.BatchSize,
		QueueBuffer:   config.Sync.QueueBuffer,
		RateLimit:     config.Server.RateLimit,
		SafetyMargin:  config.Sync.SafetyMargin(),
		FatalCooldown: config.Sync.FatalCooldown(),
		Music:         config.Sync.EnableMusic,
		Sections:      config.Sync.Sections,
		Exclude:       config.Sync.ExcludeSections,
	}
}

// runSync wires the engine to the database and server and performs one run.
func (r *Runner) runSync(ctx context.Context, opts tasks.Options, progress tasks.Progress, metrics *telemetry.SyncMetrics, logger *log.Logger) (*tasks.Result, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	server := r.mediaServer(ctx)

	deps := tasks.Deps{
		Server:   server,
		Library:  tasks.NewLibrary(repositories.NewLibraryRepository(db)),
		Runs:     repositories.NewRunRepository(db),
		Progress: progress,
		Notifier: logNotifier{logger: logger},
		Metrics:  metrics,
		Logger:   logger,
	}
	if counter, ok := server.(services.SessionCounter); ok {
		deps.Playback = services.NewSessionMonitor(counter, sessionPollInterval, logger)
	}

	return tasks.NewLibrarySync(deps, opts).Run(ctx)
}

// Close releases the database and any log files.
func (r *Runner) Close() error {
	var errs []error
	if r.db != nil && r.ownsDB {
		errs = append(errs, r.db.Close())
	}
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// logNotifier reports failed runs through the logger.
type logNotifier struct {
	logger *log.Logger
}

func (n logNotifier) Notify(heading, message string) {
	n.logger.Error(heading, "message", message)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
