package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mlsync/internal/formatter"
	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/desertthunder/mlsync/internal/tasks"
	"github.com/desertthunder/mlsync/internal/ui"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

const (
	progressBuffer  = 64
	progressLogStep = 10
)

// Sync runs one library sync in the foreground.
//
// On a terminal the run is drawn with the bubbletea progress view and logs go to a file.
// Otherwise progress is logged every 10%.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	opts := syncOptions(r.Config(), cmd.Bool("repair"))
	if ids := cmd.Int64Slice("section"); len(ids) > 0 {
		opts.Sections = ids
	}

	asJSON := cmd.Bool("json")
	interactive := !cmd.Bool("no-progress") && !asJSON && term.IsTerminal(int(os.Stdout.Fd()))

	var result *tasks.Result
	var err error
	if interactive {
		result, err = r.syncWithUI(ctx, opts)
	} else {
		result, err = r.runSync(ctx, opts, tasks.NewLogProgress(r.logger, progressLogStep), nil, r.logger)
	}
	if err != nil {
		return err
	}

	if asJSON {
		if err := r.writeJSON(result, true); err != nil {
			return err
		}
	} else if err := r.writePlain("%s", formatter.Summary(result)); err != nil {
		return err
	}

	switch {
	case result.Canceled:
		return fmt.Errorf("%w: canceled", shared.ErrSyncIncomplete)
	case !result.Successful:
		return fmt.Errorf("%w: %s", shared.ErrSyncIncomplete, result.Run.Message)
	}
	return nil
}

// syncWithUI runs the sync behind the progress view, redirecting logs to a file so they
// don't interfere with rendering.
func (r *Runner) syncWithUI(ctx context.Context, opts tasks.Options) (*tasks.Result, error) {
	logCfg := r.Config().Log
	if logCfg.File == "" {
		logCfg.File = filepath.Join(os.TempDir(), "mlsync.log")
	}
	fileLogger, closer := shared.NewFileLogger(logCfg)
	defer closer.Close()
	shared.SetLogLevel(fileLogger, r.logger.GetLevel())

	progress := tasks.NewChannelProgress(progressBuffer)
	run := func(ctx context.Context) (*tasks.Result, error) {
		defer progress.Close()
		return r.runSync(ctx, opts, progress, nil, fileLogger)
	}

	model := ui.NewModel(ctx, run, progress.Updates())
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return nil, fmt.Errorf("error running progress view: %w", err)
	}
	return model.Result(), model.Err()
}
