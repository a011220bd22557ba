package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/repositories"
	"github.com/desertthunder/mlsync/internal/services"
	"github.com/desertthunder/mlsync/internal/telemetry"
)

// WriteContext batches writes for one kind. See [repositories.WriteContext].
type WriteContext interface {
	Kind() models.Kind
	Pending() int
	Checksum(ctx context.Context, id int64, kind models.Kind) (models.Checksum, error)
	AddOrUpdate(ctx context.Context, res models.FetchResult) error
	UpdateUserData(ctx context.Context, stub models.ItemStub) (bool, error)
	AddStub(ctx context.Context, stub models.ItemStub, sectionID int64) error
	MarkSynced(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
	PruneCollections(ctx context.Context) (int, error)
	Commit() error
	Rollback() error
	Close() error
}

// Library is the local store being synced into.
type Library interface {
	Begin(ctx context.Context, kind models.Kind, syncedAt int64) (WriteContext, error)
	Checksum(ctx context.Context, id int64, kind models.Kind) (models.Checksum, error)
	Watermark(ctx context.Context, sectionID int64, kind models.Kind) (int64, error)
	UpdateWatermark(ctx context.Context, sectionID int64, kind models.Kind, ts int64) error
	SaveSection(ctx context.Context, s *models.Section) error
	StaleIDs(ctx context.Context, kind models.Kind, before int64, limit int) ([]int64, error)
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	Start(ctx context.Context, run *models.SyncRun) error
	Finish(ctx context.Context, run *models.SyncRun) error
}

// Progress is a best-effort progress indicator. Implementations must not block and must
// tolerate calls after Close.
type Progress interface {
	Create(title string)
	Update(percent int, heading, detail string)
	Close()
}

// Notifier delivers the end-of-run notification.
type Notifier interface {
	Notify(heading, message string)
}

// repositoryLibrary adapts [repositories.LibraryRepository] to [Library].
type repositoryLibrary struct {
	*repositories.LibraryRepository
}

// NewLibrary wraps repo as a [Library].
func NewLibrary(repo *repositories.LibraryRepository) Library {
	return repositoryLibrary{repo}
}

func (r repositoryLibrary) Begin(ctx context.Context, kind models.Kind, syncedAt int64) (WriteContext, error) {
	w, err := r.LibraryRepository.Begin(ctx, kind, syncedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Options tunes a [LibrarySync] run.
type Options struct {
	// Repair ignores watermarks and checksums so every item is refetched.
	Repair        bool
	Workers       int
	BatchSize     int
	QueueBuffer   int
	RateLimit     float64
	SafetyMargin  time.Duration
	FatalCooldown time.Duration
	Music         bool
	// Sections restricts the run to these section ids. Empty means all.
	Sections []int64
	Exclude  []int64
	// PollInterval bounds every wait on the router so cancellation is noticed promptly.
	PollInterval time.Duration
	Now          func() time.Time
}

func (o *Options) defaults() {
	if o.Workers < 1 {
		o.Workers = 6
	}
	if o.BatchSize < 1 {
		o.BatchSize = 250
	}
	if o.QueueBuffer < 1 {
		o.QueueBuffer = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// filtered reports whether a section id is excluded by the Sections and Exclude lists.
func (o Options) filtered(id int64) bool {
	for _, ex := range o.Exclude {
		if ex == id {
			return true
		}
	}
	if len(o.Sections) == 0 {
		return false
	}
	for _, in := range o.Sections {
		if in == id {
			return false
		}
	}
	return true
}

// Deps are the collaborators of a [LibrarySync]. Server and Library are required.
type Deps struct {
	Server   services.MediaServer
	Library  Library
	Runs     RunRecorder
	Progress Progress
	Playback services.PlaybackMonitor
	Notifier Notifier
	Metrics  *telemetry.SyncMetrics
	Logger   *log.Logger
}

// SectionResult is the outcome of one section in the fetch pass.
type SectionResult struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Kind       models.Kind `json:"kind"`
	Processed  int         `json:"processed"`
	Successful bool        `json:"successful"`
}

// Result summarizes a sync run.
type Result struct {
	Run        *models.SyncRun `json:"run"`
	Successful bool            `json:"successful"`
	Canceled   bool            `json:"canceled"`
	Written    int             `json:"written"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Updated    int             `json:"updated"`
	Deleted    int             `json:"deleted"`
	Sections   []SectionResult `json:"sections"`
}
