package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/mlsync/internal/formatter"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/repositories"
	"github.com/urfave/cli/v3"
)

type sectionKey struct {
	id   int64
	kind models.Kind
}

// Sections lists the server's library sections joined with their local sync state.
func (r *Runner) Sections(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	db, err := r.database()
	if err != nil {
		return err
	}
	states, err := repositories.NewLibraryRepository(db).Sections(ctx)
	if err != nil {
		return err
	}

	var rows []formatter.SectionRow
	if cmd.Bool("local") {
		rows = localRows(states)
	} else {
		libs, err := r.mediaServer(ctx).Sections(ctx)
		if err != nil {
			return fmt.Errorf("failed to list library sections: %w", err)
		}
		rows = remoteRows(libs, states, r.Config().Sync.EnableMusic)
	}

	return render(r, format, rows, formatter.SectionsTable, formatter.SectionsToCSV)
}

func localRows(states []repositories.SectionState) []formatter.SectionRow {
	rows := make([]formatter.SectionRow, 0, len(states))
	for _, s := range states {
		rows = append(rows, formatter.SectionRow{
			ID: s.SectionID, Title: s.Name, Type: s.Kind.LibraryType(), Kind: s.Kind,
			LastSync: s.LastSync, Items: s.Items,
		})
	}
	return rows
}

// remoteRows expands each library into the kinds a sync would process for it.
func remoteRows(libs []models.LibrarySection, states []repositories.SectionState, music bool) []formatter.SectionRow {
	local := make(map[sectionKey]repositories.SectionState, len(states))
	for _, s := range states {
		local[sectionKey{s.SectionID, s.Kind}] = s
	}

	var rows []formatter.SectionRow
	for _, lib := range libs {
		for _, kind := range models.SyncKinds(music, false) {
			if kind.LibraryType() != lib.Type {
				continue
			}
			state := local[sectionKey{lib.ID, kind}]
			rows = append(rows, formatter.SectionRow{
				ID: lib.ID, Title: lib.Title, Type: lib.Type, Kind: kind,
				LastSync: state.LastSync, Items: state.Items,
			})
		}
	}
	return rows
}

// render writes v as a table, CSV or JSON.
func render[T any](r *Runner, format formatter.Format, v T, table func(T) string, toCSV func(T) ([]byte, error)) error {
	switch format {
	case formatter.JSON:
		return r.writeJSON(v, true)
	case formatter.CSV:
		data, err := toCSV(v)
		if err != nil {
			return err
		}
		return r.writeBytes(data)
	default:
		return r.writePlain("%s\n", table(v))
	}
}
