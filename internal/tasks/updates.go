package tasks

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/models"
)

// ProgressUpdate represents a progress event during a sync run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Run phase
	Percent int    // Completion of the current section, 0-100
	Heading string // Usually the section being processed
	Message string // Human-readable detail for display
}

// Run phase enumeration
type Phase int

const (
	Started Phase = iota
	Syncing
	Closed
)

func (p Phase) String() string {
	switch p {
	case Started:
		return "started"
	case Syncing:
		return "syncing"
	case Closed:
		return "closed"
	default:
		return ""
	}
}

// ChannelProgress forwards progress calls to a channel.
//
// Updates are dropped when the channel is full. The channel is closed on the first Close.
type ChannelProgress struct {
	mu     sync.Mutex
	ch     chan ProgressUpdate
	closed bool
}

// NewChannelProgress creates a ChannelProgress with a buffer of size updates.
func NewChannelProgress(size int) *ChannelProgress {
	return &ChannelProgress{ch: make(chan ProgressUpdate, size)}
}

// Updates is the receiving end of the progress channel.
func (p *ChannelProgress) Updates() <-chan ProgressUpdate { return p.ch }

func (p *ChannelProgress) Create(title string) {
	p.send(ProgressUpdate{Phase: Started, Heading: title})
}

func (p *ChannelProgress) Update(percent int, heading, detail string) {
	p.send(ProgressUpdate{Phase: Syncing, Percent: percent, Heading: heading, Message: detail})
}

// Close sends a final update and closes the channel. Later calls are ignored.
func (p *ChannelProgress) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- ProgressUpdate{Phase: Closed, Percent: 100}:
	default:
	}
	p.closed = true
	close(p.ch)
}

// send delivers an update without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (p *ChannelProgress) send(update ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- update:
	default:
		// Channel full, skip this update
	}
}

// LogProgress reports progress as log lines, at most once per section per step percent.
type LogProgress struct {
	logger *log.Logger
	step   int

	mu      sync.Mutex
	heading string
	last    int
	closed  bool
}

// NewLogProgress logs whenever a section crosses another step percent.
func NewLogProgress(logger *log.Logger, step int) *LogProgress {
	if step < 1 {
		step = 10
	}
	return &LogProgress{logger: logger, step: step, last: -1}
}

func (p *LogProgress) Create(title string) {
	p.logger.Info(title)
}

func (p *LogProgress) Update(percent int, heading, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if heading != p.heading {
		p.heading = heading
		p.last = -1
	}
	bucket := percent / p.step
	if bucket == p.last {
		return
	}
	p.last = bucket
	p.logger.Info(heading, "progress", fmt.Sprintf("%d%%", percent), "item", detail)
}

func (p *LogProgress) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

type noopProgress struct{}

func (noopProgress) Create(string)              {}
func (noopProgress) Update(int, string, string) {}
func (noopProgress) Close()                     {}

func sectionHeading(s *models.Section) string {
	return fmt.Sprintf("Syncing %s", s)
}

func percentOf(done, total int) int {
	if total <= 0 {
		return 100
	}
	return min(100, done*100/total)
}
