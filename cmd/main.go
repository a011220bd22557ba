package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	app := &cli.Command{
		Name:     "mlsync",
		Usage:    "Mirror a media server's library into a local SQLite database",
		Version:  "0.1.0",
		Flags:    globalFlags(),
		Before:   runner.configure,
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()

	if cerr := runner.Close(); cerr != nil {
		logger.Warn("failed to close resources", "error", cerr)
	}

	switch {
	case err == nil:
	case errors.Is(err, shared.ErrSyncIncomplete):
		logger.Error(err.Error())
		os.Exit(1)
	default:
		logger.Fatalf("application error: %v", err)
	}
}
