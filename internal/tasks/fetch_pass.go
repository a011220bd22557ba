package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/fetch"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/router"
)

// fetchPass is the state of one fetch pass. Everything except discovery runs on the calling
// goroutine.
type fetchPass struct {
	sync     *LibrarySync
	opts     Options
	logger   *log.Logger
	progress *runProgress
	result   *Result
	runTS    int64

	router *router.Router
	pool   *fetch.Pool
	writer *writer

	// pending holds registered sections that have not been finalized, in registration order.
	pending   []*models.Section
	finalized map[*models.Section]bool
}

func (s *LibrarySync) fetchPass(ctx context.Context, sections []*models.Section, runTS int64, result *Result, progress *runProgress) bool {
	p := &fetchPass{
		sync:      s,
		opts:      s.opts,
		logger:    s.logger.WithPrefix("fetch-pass"),
		progress:  progress,
		result:    result,
		runTS:     runTS,
		router:    router.New(),
		finalized: make(map[*models.Section]bool),
		writer: &writer{
			library:  s.deps.Library,
			syncedAt: runTS,
			batch:    s.opts.BatchSize,
			logger:   s.logger,
			metrics:  s.deps.Metrics,
		},
	}
	return p.run(ctx, sections)
}

func (p *fetchPass) run(ctx context.Context, sections []*models.Section) bool {
	p.load(ctx, sections)
	p.pool = p.newPool(ctx)

	for section := range p.discover(ctx, sections) {
		if ctx.Err() != nil {
			break
		}
		p.feed(ctx, section)
	}
	if ctx.Err() == nil {
		p.finish(ctx)
	}

	if ctx.Err() != nil {
		p.writer.discard()
	} else {
		p.writer.close(ctx)
	}
	p.pool.Wait()
	p.result.Written += p.writer.written

	ok := ctx.Err() == nil
	for _, section := range sections {
		done := p.finalized[section] && section.Successful() && ctx.Err() == nil
		ok = ok && done
		p.result.Sections = append(p.result.Sections, SectionResult{
			ID:         section.ID,
			Name:       section.Name,
			Kind:       section.Kind,
			Processed:  section.Processed,
			Successful: done,
		})
	}
	return ok
}

func (p *fetchPass) newPool(ctx context.Context) *fetch.Pool {
	return fetch.New(ctx, p.sync.deps.Server, p.router, fetch.Options{
		Workers:   p.opts.Workers,
		Buffer:    p.opts.QueueBuffer,
		RateLimit: p.opts.RateLimit,
		Logger:    p.sync.logger,
		Metrics:   p.sync.deps.Metrics,
	})
}

// discover resolves each section's iterator in order on its own goroutine.
func (p *fetchPass) discover(ctx context.Context, sections []*models.Section) <-chan *models.Section {
	out := make(chan *models.Section)
	go func() {
		defer close(out)
		for _, section := range sections {
			p.prepare(ctx, section)
			select {
			case out <- section:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// load stores every section and reads its watermark before the writer opens a transaction.
// Past this point the pass touches the database only through the writer and, once a section
// is drained, through watermark updates made after a commit.
func (p *fetchPass) load(ctx context.Context, sections []*models.Section) {
	library := p.sync.deps.Library
	for _, section := range sections {
		if err := library.SaveSection(ctx, section); err != nil {
			p.logger.Warn("Failed to save section", "section", section, "error", err)
		}
		watermark, err := library.Watermark(ctx, section.ID, section.Kind)
		if err != nil {
			p.logger.Warn("Failed to read watermark, enumerating everything", "section", section, "error", err)
		}
		section.Watermark = watermark
	}
}

func (p *fetchPass) prepare(ctx context.Context, section *models.Section) {
	since := p.cursor(section)
	it, err := p.sync.deps.Server.Enumerate(ctx, section, since)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Failed to enumerate section", "section", section, "error", err)
		}
		section.MarkFailed()
		return
	}
	section.Iterator = it
	section.Total = it.Total()
	p.logger.Debug("Discovered section", "section", section, "total", section.Total, "since", since)
}

// cursor is the lower updatedAt bound for a section's listing. Zero means unbounded.
func (p *fetchPass) cursor(section *models.Section) int64 {
	if p.opts.Repair || section.Watermark <= 0 {
		return 0
	}
	return max(0, section.Watermark-int64(p.opts.SafetyMargin/time.Second))
}

// feed registers section and submits its changed items, draining whenever the router backlog
// reaches a batch.
func (p *fetchPass) feed(ctx context.Context, section *models.Section) {
	p.router.AddSection(section)
	p.pending = append(p.pending, section)

	issued := 0
	for section.Iterator != nil && ctx.Err() == nil {
		stub, ok, err := section.Iterator.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("Failed to enumerate section", "section", section, "error", err)
				section.MarkFailed()
			}
			break
		}
		if !ok {
			break
		}

		if !p.opts.Repair && p.unchanged(ctx, section, stub) {
			p.result.Skipped++
			continue
		}

		req := models.FetchRequest{Index: issued, ID: stub.ID, Section: section}
		if !p.submit(ctx, req) {
			break
		}
		issued++

		if p.router.TotalSize() >= p.opts.BatchSize {
			p.drain(ctx)
			if _, registered := p.router.Delivered(section); !registered {
				break
			}
		}
	}

	p.router.Seal(section, issued)
	p.finalize(ctx)
}

// unchanged reports whether the stored checksum matches the listing.
func (p *fetchPass) unchanged(ctx context.Context, section *models.Section, stub models.ItemStub) bool {
	sum, err := p.writer.checksum(ctx, stub.ID, section.Kind)
	if err != nil {
		p.logger.Warn("Failed to read checksum", "section", section, "id", stub.ID, "error", err)
		return false
	}
	return sum != "" && sum == stub.Checksum()
}

// submit hands req to the pool. It returns false when the request's section can take no more
// requests, either because the run was canceled or because the pool stopped.
func (p *fetchPass) submit(ctx context.Context, req models.FetchRequest) bool {
	err := p.pool.Submit(ctx, req)
	if err == nil {
		return true
	}
	if ctx.Err() == nil {
		p.recover(ctx, true)
	}
	return false
}

// drain writes ready results until the backlog falls below a batch and the pool has room for
// more requests, or until nothing is ready.
func (p *fetchPass) drain(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := p.router.GetWait(ctx, p.opts.PollInterval)
		if errors.Is(err, router.ErrEmpty) {
			p.finalize(ctx)
			if p.pool.Err() != nil {
				p.recover(ctx, true)
			}
			return
		}
		if err != nil {
			return
		}

		p.process(ctx, res)
		p.finalize(ctx)
		if p.router.TotalSize() < p.opts.BatchSize && p.pool.Depth() < p.opts.QueueBuffer {
			return
		}
	}
}

// finish closes the pool and drains until every registered section is delivered.
func (p *fetchPass) finish(ctx context.Context) {
	pool := p.pool
	pool.Close()
	exited := make(chan struct{})
	go func() {
		pool.Wait()
		close(exited)
	}()

	for ctx.Err() == nil && p.router.Len() > 0 {
		res, err := p.router.GetWait(ctx, p.opts.PollInterval)
		if err == nil {
			p.process(ctx, res)
			p.finalize(ctx)
			continue
		}
		if !errors.Is(err, router.ErrEmpty) {
			break
		}

		select {
		case <-exited:
			switch {
			case pool.Err() != nil:
				p.recover(ctx, false)
			case p.router.TotalSize() == 0:
				p.dropAll("fetch pool exited before every result arrived")
			}
		default:
		}
		p.finalize(ctx)
	}
	p.finalize(ctx)
}

func (p *fetchPass) process(ctx context.Context, res models.FetchResult) {
	section := res.Section
	section.Processed++
	if res.Failed() {
		p.result.Failed++
	}
	p.writer.write(ctx, res)

	detail := fmt.Sprintf("item %d", res.ID)
	if res.Document != nil {
		detail = res.Document.Title()
	}
	p.progress.update(ctx, percentOf(section.Processed, section.Total), sectionHeading(section), detail)
}

// recover handles a pool-fatal error: every section in flight is failed and dropped, and after
// the cooldown a new pool takes over if restart is set.
func (p *fetchPass) recover(ctx context.Context, restart bool) {
	err := p.pool.Wait()
	p.logger.Error("Fetch pool stopped", "error", err)

	p.writer.commit(ctx)
	p.dropAll("fetch pool stopped")

	if !restart {
		return
	}
	if cooldown := p.opts.FatalCooldown; cooldown > 0 {
		p.logger.Info("Waiting before restarting fetch pool", "cooldown", cooldown)
		timer := time.NewTimer(cooldown)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}
	p.pool = p.newPool(ctx)
}

func (p *fetchPass) dropAll(reason string) {
	for _, section := range p.router.Sections() {
		section.MarkFailed()
		dropped := p.router.Remove(section)
		p.logger.Warn("Dropped section", "section", section, "reason", reason, "buffered", dropped)
	}
}

// finalize completes sections the router no longer holds, oldest first.
func (p *fetchPass) finalize(ctx context.Context) {
	for len(p.pending) > 0 {
		section := p.pending[0]
		if _, registered := p.router.Delivered(section); registered {
			return
		}
		p.pending = p.pending[1:]
		if ctx.Err() != nil {
			continue
		}
		// The watermark write needs the lock the writer's transaction holds.
		p.writer.commit(ctx)
		p.complete(ctx, section)
	}
}

// complete advances the watermark of a fully drained, successful section.
func (p *fetchPass) complete(ctx context.Context, section *models.Section) {
	if ctx.Err() != nil {
		return
	}
	if !section.Successful() {
		p.logger.Warn("Section failed, watermark unchanged", "section", section, "processed", section.Processed)
		return
	}
	if err := p.sync.deps.Library.UpdateWatermark(ctx, section.ID, section.Kind, p.runTS); err != nil {
		p.logger.Error("Failed to update watermark", "section", section, "error", err)
		section.MarkFailed()
		return
	}
	p.finalized[section] = true
	p.logger.Info("Section synced", "section", section, "processed", section.Processed)
}
