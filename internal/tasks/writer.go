package tasks

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/telemetry"
)

// writer owns the single write context of the fetch pass.
//
// It commits every batch items and whenever the section changes. The context survives across
// drains and is replaced only when the kind changes.
type writer struct {
	library  Library
	syncedAt int64
	batch    int
	logger   *log.Logger
	metrics  *telemetry.SyncMetrics

	wc      WriteContext
	section *models.Section
	written int
}

func (w *writer) write(ctx context.Context, res models.FetchResult) {
	section := res.Section
	if section != w.section {
		w.commit(ctx)
		w.section = section
	}
	if res.Failed() {
		return
	}

	if w.wc == nil || w.wc.Kind() != section.Kind {
		w.close(ctx)
		wc, err := w.library.Begin(ctx, section.Kind, w.syncedAt)
		if err != nil {
			w.logger.Error("Failed to open write context", "section", section, "error", err)
			section.MarkFailed()
			return
		}
		w.wc = wc
	}

	if err := w.wc.AddOrUpdate(ctx, res); err != nil {
		w.logger.Error("Failed to write item", "section", section, "id", res.ID, "error", err)
		section.MarkFailed()
		return
	}
	w.written++

	if w.wc.Pending() >= w.batch {
		w.commit(ctx)
	}
}

// checksum reads a stored checksum through the open write context when there is one, so the
// read never queues behind this pass's own uncommitted transaction.
func (w *writer) checksum(ctx context.Context, id int64, kind models.Kind) (models.Checksum, error) {
	if w.wc != nil {
		return w.wc.Checksum(ctx, id, kind)
	}
	return w.library.Checksum(ctx, id, kind)
}

// commit flushes pending writes. A failed commit fails the section the writes belonged to.
func (w *writer) commit(ctx context.Context) {
	if w.wc == nil {
		return
	}
	n := w.wc.Pending()
	if n == 0 {
		return
	}

	if err := w.wc.Commit(); err != nil {
		w.logger.Error("Failed to commit batch", "section", w.section, "items", n, "error", err)
		if w.section != nil {
			w.section.MarkFailed()
		}
		w.written -= n
		return
	}
	w.logger.Debug("Committed batch", "section", w.section, "items", n)
	w.metrics.RecordCommit(ctx, string(w.wc.Kind()), n)
}

func (w *writer) close(ctx context.Context) {
	if w.wc == nil {
		return
	}
	w.commit(ctx)
	if err := w.wc.Close(); err != nil {
		w.logger.Warn("Failed to close write context", "error", err)
	}
	w.wc = nil
}

// discard rolls back whatever was not committed yet.
func (w *writer) discard() {
	if w.wc == nil {
		return
	}
	if n := w.wc.Pending(); n > 0 {
		w.written -= n
		w.logger.Info("Discarding uncommitted writes", "items", n)
	}
	if err := w.wc.Rollback(); err != nil {
		w.logger.Debug("Rollback failed", "error", err)
	}
	w.wc = nil
}
