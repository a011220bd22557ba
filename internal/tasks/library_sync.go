package tasks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/services"
)

// LibrarySync mirrors the media server's library into the local database.
type LibrarySync struct {
	deps   Deps
	opts   Options
	logger *log.Logger
}

// NewLibrarySync creates a LibrarySync. Deps.Server and Deps.Library are required.
func NewLibrarySync(deps Deps, opts Options) *LibrarySync {
	opts.defaults()
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}
	if deps.Progress == nil {
		deps.Progress = noopProgress{}
	}
	return &LibrarySync{deps: deps, opts: opts, logger: deps.Logger.WithPrefix("sync")}
}

// Run performs one sync run.
//
// Only a failure to list the library is returned as an error. Everything else is reported
// through the result, including cancellation.
func (s *LibrarySync) Run(ctx context.Context) (*Result, error) {
	start := s.opts.Now()
	runTS := start.Unix()
	run := &models.SyncRun{StartedAt: runTS, Repair: s.opts.Repair}
	result := &Result{Run: run}

	if s.deps.Runs != nil {
		if err := s.deps.Runs.Start(ctx, run); err != nil {
			s.logger.Warn("Failed to record run start", "error", err)
		}
	}

	progress := &runProgress{p: s.deps.Progress, playback: s.deps.Playback, logger: s.logger}
	progress.create("Syncing library")
	defer progress.close()

	s.logger.Info("Starting sync", "server", s.deps.Server.Name(), "repair", s.opts.Repair)

	libs, err := s.deps.Server.Sections(ctx)
	if err != nil {
		result.Canceled = ctx.Err() != nil
		s.finish(ctx, result, start, fmt.Sprintf("failed to list library sections: %v", err))
		if result.Canceled {
			return result, nil
		}
		return result, fmt.Errorf("failed to list library sections: %w", err)
	}
	libs = s.filter(libs)

	ok := s.fetchPass(ctx, s.plan(libs, false), runTS, result, progress)

	switch {
	case ctx.Err() != nil:
	case !ok:
		s.logger.Warn("Skipping play-state and deletion passes after failed fetch pass")
	default:
		ok = s.playStatePass(ctx, s.plan(libs, true), runTS, result, progress)
		switch {
		case ctx.Err() != nil:
		case !ok:
			s.logger.Warn("Skipping deletion pass after failed play-state pass")
		case len(s.opts.Sections) > 0 || len(s.opts.Exclude) > 0:
			s.logger.Info("Skipping deletion pass for a partial library sync")
		default:
			ok = s.deletionPass(ctx, runTS, result)
		}
	}

	result.Canceled = ctx.Err() != nil
	result.Successful = ok && !result.Canceled
	s.finish(ctx, result, start, s.summary(result))
	return result, nil
}

func (s *LibrarySync) filter(libs []models.LibrarySection) []models.LibrarySection {
	out := libs[:0:0]
	for _, lib := range libs {
		if s.opts.filtered(lib.ID) {
			s.logger.Debug("Skipping filtered section", "section", lib.Title, "id", lib.ID)
			continue
		}
		out = append(out, lib)
	}
	return out
}

// plan expands libraries into (section, kind) pairs, kind-major so parents precede children.
func (s *LibrarySync) plan(libs []models.LibrarySection, playstate bool) []*models.Section {
	var sections []*models.Section
	for _, kind := range models.SyncKinds(s.opts.Music, playstate) {
		for _, lib := range libs {
			if lib.Type == kind.LibraryType() {
				sections = append(sections, models.NewSection(lib, kind, 0))
			}
		}
	}
	return sections
}

// playStatePass refreshes user data and stamps every listed item with the run timestamp.
func (s *LibrarySync) playStatePass(ctx context.Context, sections []*models.Section, runTS int64, result *Result, progress *runProgress) bool {
	logger := s.logger.WithPrefix("playstate")
	batch := 10 * s.opts.BatchSize
	ok := true

	var wc WriteContext
	commit := func() {
		if wc == nil || wc.Pending() == 0 {
			return
		}
		n := wc.Pending()
		if err := wc.Commit(); err != nil {
			logger.Error("Failed to commit play state", "error", err)
			ok = false
			return
		}
		s.deps.Metrics.RecordCommit(ctx, string(wc.Kind()), n)
	}

	for _, section := range sections {
		if ctx.Err() != nil {
			break
		}

		if wc == nil || wc.Kind() != section.Kind {
			if wc != nil {
				commit()
				wc.Close()
				wc = nil
			}
			var err error
			if wc, err = s.deps.Library.Begin(ctx, section.Kind, runTS); err != nil {
				logger.Error("Failed to open write context", "kind", section.Kind, "error", err)
				ok = false
				continue
			}
		}

		it, err := s.deps.Server.Enumerate(ctx, section, 0)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Failed to enumerate section", "section", section, "error", err)
			}
			ok = false
			continue
		}

		total, n := it.Total(), 0
		for ctx.Err() == nil {
			stub, more, err := it.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Failed to enumerate section", "section", section, "error", err)
				}
				ok = false
				break
			}
			if !more {
				break
			}

			if err := s.refresh(ctx, wc, section, stub, result); err != nil {
				logger.Warn("Failed to refresh play state", "section", section, "id", stub.ID, "error", err)
				ok = false
			}
			n++
			if wc.Pending() >= batch {
				commit()
			}
			progress.update(ctx, percentOf(n, total), "Updating play state for "+section.String(), fmt.Sprintf("item %d", stub.ID))
		}
		logger.Debug("Refreshed section", "section", section, "items", n)
	}

	if wc != nil {
		if ctx.Err() != nil {
			wc.Rollback()
		} else {
			commit()
			wc.Close()
		}
	}
	return ok && ctx.Err() == nil
}

// refresh updates the user data of a stored item, or stores the listing entry if it is missing.
func (s *LibrarySync) refresh(ctx context.Context, wc WriteContext, section *models.Section, stub models.ItemStub, result *Result) error {
	updated, err := wc.UpdateUserData(ctx, stub)
	if err != nil {
		return err
	}
	if !updated {
		if err := wc.AddStub(ctx, stub, section.ID); err != nil {
			return err
		}
		result.Written++
		return nil
	}
	result.Updated++
	return wc.MarkSynced(ctx, stub.ID)
}

// deletionPass removes local items whose last sync predates this run.
func (s *LibrarySync) deletionPass(ctx context.Context, runTS int64, result *Result) bool {
	logger := s.logger.WithPrefix("delete")
	limit := s.opts.BatchSize

	for _, kind := range models.SyncKinds(s.opts.Music, true) {
		wc, err := s.deps.Library.Begin(ctx, kind, runTS)
		if err != nil {
			logger.Error("Failed to open write context", "kind", kind, "error", err)
			return false
		}

		removed := 0
		for {
			if ctx.Err() != nil {
				wc.Rollback()
				return false
			}

			ids, err := s.deps.Library.StaleIDs(ctx, kind, runTS, limit)
			if err != nil {
				logger.Error("Failed to query stale items", "kind", kind, "error", err)
				wc.Rollback()
				return false
			}
			for _, id := range ids {
				if err := wc.Remove(ctx, id); err != nil {
					logger.Error("Failed to remove item", "kind", kind, "id", id, "error", err)
					wc.Rollback()
					return false
				}
			}
			if err := wc.Commit(); err != nil {
				logger.Error("Failed to commit removals", "kind", kind, "error", err)
				wc.Rollback()
				return false
			}
			removed += len(ids)
			if len(ids) < limit {
				break
			}
		}
		if kind.HasCollections() {
			pruned, err := wc.PruneCollections(ctx)
			if err == nil {
				err = wc.Commit()
			}
			if err != nil {
				logger.Error("Failed to prune collections", "kind", kind, "error", err)
				wc.Rollback()
				return false
			}
			if pruned > 0 {
				logger.Info("Removed unused collections", "kind", kind, "count", pruned)
			}
		}
		wc.Close()

		if removed > 0 {
			logger.Info("Removed stale items", "kind", kind, "count", removed)
			s.deps.Metrics.RecordDeleted(ctx, string(kind), removed)
		}
		result.Deleted += removed
	}
	return true
}

func (s *LibrarySync) summary(result *Result) string {
	if result.Canceled {
		return "canceled"
	}
	var failed []string
	for _, sr := range result.Sections {
		if !sr.Successful {
			failed = append(failed, fmt.Sprintf("%s (%s)", sr.Name, sr.Kind))
		}
	}
	if len(failed) > 0 {
		return "failed sections: " + strings.Join(failed, ", ")
	}
	if !result.Successful {
		return "play-state or deletion pass failed"
	}
	return ""
}

// finish records the outcome. It still runs when ctx is canceled.
func (s *LibrarySync) finish(ctx context.Context, result *Result, start time.Time, message string) {
	ctx = context.WithoutCancel(ctx)
	finished := s.opts.Now()

	run := result.Run
	run.FinishedAt = finished.Unix()
	run.Successful = result.Successful
	run.Canceled = result.Canceled
	run.ItemsWritten = result.Written
	run.ItemsDeleted = result.Deleted
	run.Message = message

	if s.deps.Runs != nil {
		if err := s.deps.Runs.Finish(ctx, run); err != nil {
			s.logger.Warn("Failed to record run", "error", err)
		}
	}
	s.deps.Metrics.RecordRun(ctx, finished.Sub(start), s.opts.Repair, result.Successful, result.Canceled)

	logger := s.logger.With(
		"written", result.Written, "updated", result.Updated, "skipped", result.Skipped,
		"failed", result.Failed, "deleted", result.Deleted, "duration", finished.Sub(start).Round(time.Millisecond),
	)
	switch {
	case result.Canceled:
		logger.Warn("Sync canceled")
	case result.Successful:
		logger.Info("Sync finished")
	default:
		logger.Error("Sync finished with errors", "message", message)
		if s.deps.Notifier != nil {
			s.deps.Notifier.Notify("Library sync failed", message)
		}
	}
}

// runProgress hides the progress indicator for good once media starts playing.
type runProgress struct {
	p        Progress
	playback services.PlaybackMonitor
	logger   *log.Logger
	closed   bool
}

func (r *runProgress) create(title string) { r.p.Create(title) }

func (r *runProgress) update(ctx context.Context, percent int, heading, detail string) {
	if r.closed {
		return
	}
	if r.playback != nil && r.playback.IsPlaying(ctx) {
		r.logger.Debug("Media is playing, closing progress")
		r.close()
		return
	}
	r.p.Update(percent, heading, detail)
}

func (r *runProgress) close() {
	if r.closed {
		return
	}
	r.closed = true
	r.p.Close()
}
