// package fetch resolves item references into full metadata documents on a fixed pool of workers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/services"
	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/desertthunder/mlsync/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Sink receives resolved items. [router.Router] is the production sink.
type Sink interface {
	Put(res models.FetchResult)
}

// Options configures a [Pool].
type Options struct {
	Workers int
	// Buffer is the capacity of the request channel.
	Buffer int
	// RateLimit caps requests per second across all workers. Zero disables it.
	RateLimit float64
	Logger    *log.Logger
	Metrics   *telemetry.SyncMetrics
}

// Pool fetches documents for [models.FetchRequest]s and puts the results on a [Sink].
//
// Submit must not race with Close; the feeding goroutine should own both.
type Pool struct {
	server  services.MediaServer
	sink    Sink
	limiter *rate.Limiter
	logger  *log.Logger
	metrics *telemetry.SyncMetrics

	requests  chan models.FetchRequest
	group     *errgroup.Group
	ctx       context.Context
	closed    atomic.Bool
	closeOnce sync.Once

	// collMu guards every section's collection index. Lookups hold it across the remote call so
	// that each section and each collection document is fetched once.
	collMu sync.Mutex

	fatal   atomic.Pointer[error]
	fetched atomic.Int64
}

// New starts a pool whose workers stop when ctx is done.
func New(ctx context.Context, server services.MediaServer, sink Sink, opts Options) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Buffer < 1 {
		opts.Buffer = opts.Workers
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	group, gctx := errgroup.WithContext(ctx)
	p := &Pool{
		server:   server,
		sink:     sink,
		logger:   opts.Logger.WithPrefix("fetch"),
		metrics:  opts.Metrics,
		requests: make(chan models.FetchRequest, opts.Buffer),
		group:    group,
		ctx:      gctx,
	}
	if opts.RateLimit > 0 {
		burst := max(1, int(opts.RateLimit))
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	for range opts.Workers {
		group.Go(func() error { return p.work(gctx) })
	}
	return p
}

// Submit queues req, blocking while the request buffer is full.
//
// It returns [shared.ErrPoolStopped] once the pool has stopped or been closed.
func (p *Pool) Submit(ctx context.Context, req models.FetchRequest) error {
	if p.closed.Load() || p.ctx.Err() != nil {
		return p.stopped()
	}

	select {
	case p.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.stopped()
	}
}

func (p *Pool) stopped() error {
	if err := p.Err(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrPoolStopped, err)
	}
	return shared.ErrPoolStopped
}

// Close stops accepting requests. Workers exit once the buffered requests are handled.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.requests)
	})
}

// Wait closes the pool and blocks until every worker has exited. It returns the pool-fatal
// error that stopped the pool, if any.
func (p *Pool) Wait() error {
	p.Close()
	return p.group.Wait()
}

// Done is closed when the workers have been told to stop, either by a pool-fatal error or by
// cancellation of the parent context.
func (p *Pool) Done() <-chan struct{} { return p.ctx.Done() }

// Err returns the pool-fatal error, if one occurred.
func (p *Pool) Err() error {
	if err := p.fatal.Load(); err != nil {
		return *err
	}
	return nil
}

// Depth is the number of requests waiting for a worker.
func (p *Pool) Depth() int { return len(p.requests) }

// Fetched is the number of documents fetched successfully.
func (p *Pool) Fetched() int64 { return p.fetched.Load() }

func (p *Pool) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-p.requests:
			if !ok {
				return nil
			}
			if err := p.process(ctx, req); err != nil {
				p.fatal.CompareAndSwap(nil, &err)
				return err
			}
		}
	}
}

// process resolves one request. Only pool-fatal errors are returned; item errors are reported to
// the sink as placeholders.
func (p *Pool) process(ctx context.Context, req models.FetchRequest) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil
		}
	}

	section := req.Section
	res := models.FetchResult{Index: req.Index, ID: req.ID, Section: section}

	err := p.resolve(ctx, &res)
	p.metrics.RecordFetch(ctx, string(section.Kind), err)
	switch {
	case err == nil:
		p.fetched.Add(1)
	case ctx.Err() != nil:
		return nil
	case shared.IsPoolFatal(err):
		section.MarkFailed()
		p.logger.Error("Media server refused work, stopping pool", "section", section, "id", req.ID, "error", err)
		return fmt.Errorf("fetch %d: %w", req.ID, err)
	default:
		section.MarkFailed()
		p.logger.Warn("Failed to fetch item", "section", section, "id", req.ID, "error", err)
		res.Err = err
		res.Document = nil
		res.Children = nil
		res.Collections = nil
	}

	p.sink.Put(res)
	return nil
}

func (p *Pool) resolve(ctx context.Context, res *models.FetchResult) error {
	doc, err := p.server.Fetch(ctx, res.ID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: empty response for %d", shared.ErrInvalidDocument, res.ID)
	}
	res.Document = doc

	kind := res.Section.Kind
	if kind.HasCollections() {
		if refs := doc.Collections(); len(refs) > 0 {
			collections, err := p.collections(ctx, res.Section, refs)
			if err != nil {
				return fmt.Errorf("collections of %d: %w", res.ID, err)
			}
			res.Collections = collections
		}
	}

	if kind.HasChildren() {
		children, err := p.server.FetchChildren(ctx, res.ID)
		if err != nil {
			return fmt.Errorf("children of %d: %w", res.ID, err)
		}
		res.Children = children
	}
	return nil
}

// collections resolves collection tags through the section's cache.
func (p *Pool) collections(ctx context.Context, s *models.Section, refs []models.CollectionRef) ([]models.Collection, error) {
	p.collMu.Lock()
	defer p.collMu.Unlock()

	if s.Collections == nil {
		s.Collections = &models.CollectionIndex{}
	}
	idx := s.Collections
	if !idx.Loaded {
		members, err := p.server.FetchCollectionMembers(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		idx.Members = members
		idx.Docs = make(map[int64]*models.Document)
		idx.Loaded = true
	}

	out := make([]models.Collection, 0, len(refs))
	for _, ref := range refs {
		id, ok := idx.Members[ref.ID]
		if !ok {
			p.logger.Debug("Collection tag has no collection item", "section", s, "tag", ref.Tag)
			continue
		}

		doc, ok := idx.Docs[id]
		if !ok {
			var err error
			doc, err = p.server.Fetch(ctx, id)
			if err != nil && !errors.Is(err, shared.ErrItemNotFound) {
				return nil, err
			}
			idx.Docs[id] = doc
		}
		out = append(out, models.Collection{ID: id, Title: ref.Tag, Document: doc})
	}
	return out, nil
}
