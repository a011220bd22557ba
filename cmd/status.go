package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/mlsync/internal/formatter"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/repositories"
	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// Status prints the most recent sync runs.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	limit := cmd.Int("limit")
	if limit < 1 {
		return fmt.Errorf("%w: --limit must be at least 1", shared.ErrInvalidFlag)
	}

	db, err := r.database()
	if err != nil {
		return err
	}
	runs, err := repositories.NewRunRepository(db).Recent(ctx, limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*models.SyncRun{}
	}

	if len(runs) == 0 && format == formatter.Text {
		return r.writePlain("No sync runs recorded yet.\n")
	}
	return render(r, format, runs, formatter.RunsTable, formatter.RunsToCSV)
}
