package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// SessionCounter reports how many playback sessions are active.
type SessionCounter interface {
	ActiveSessions(ctx context.Context) (int, error)
}

// SessionMonitor implements [PlaybackMonitor] by polling the server's session list at most once per interval.
type SessionMonitor struct {
	counter SessionCounter
	logger  *log.Logger
	every   rate.Sometimes
	playing atomic.Bool
}

// NewSessionMonitor polls counter no more often than interval.
func NewSessionMonitor(counter SessionCounter, interval time.Duration, logger *log.Logger) *SessionMonitor {
	return &SessionMonitor{
		counter: counter,
		logger:  logger,
		every:   rate.Sometimes{Interval: interval},
	}
}

// IsPlaying returns the cached answer, refreshing it when the interval has elapsed.
// Errors keep the previous answer.
func (m *SessionMonitor) IsPlaying(ctx context.Context) bool {
	m.every.Do(func() {
		n, err := m.counter.ActiveSessions(ctx)
		if err != nil {
			m.logger.Debug("session check failed", "err", err)
			return
		}
		m.playing.Store(n > 0)
	})
	return m.playing.Load()
}
