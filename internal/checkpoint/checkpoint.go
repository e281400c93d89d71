// Package checkpoint persists the discovery cursor: the next calendar day to crawl.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jonathan/tender-monitor/internal/logger"
)

// Layout is the on-disk date format.
const Layout = "20060102"

// DefaultSeedDays is how far back discovery starts when no checkpoint exists.
const DefaultSeedDays = 5

// Tracker reads and advances the checkpoint file.
type Tracker struct {
	path     string
	seedDays int
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now. The clock's location defines calendar days.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for fail-soft warnings.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a tracker for the checkpoint file at path.
func New(path string, seedDays int, opts ...Option) *Tracker {
	t := &Tracker{path: path, seedDays: seedDays, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logger.OrDiscard(t.logger)
	if t.seedDays < 0 {
		t.seedDays = DefaultSeedDays
	}
	return t
}

// Path returns the checkpoint file path.
func (t *Tracker) Path() string {
	return t.path
}

// Today is the current calendar day at midnight.
func (t *Tracker) Today() time.Time {
	return truncateDay(t.now())
}

// Seed is the day used when no usable checkpoint exists: today minus the seed window.
func (t *Tracker) Seed() time.Time {
	return t.Today().AddDate(0, 0, -t.seedDays)
}

// Load returns the next day to crawl. A missing, unreadable or unparseable file
// yields Seed. A checkpoint past today is capped to today.
func (t *Tracker) Load() time.Time {
	today := t.Today()

	data, err := os.ReadFile(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("checkpoint unreadable, using seed", "path", t.path, "error", err)
		}
		return t.Seed()
	}

	raw := strings.TrimSpace(string(data))
	day, err := time.ParseInLocation(Layout, raw, today.Location())
	if err != nil {
		t.logger.Warn("checkpoint unparseable, using seed", "path", t.path, "value", raw, "error", err)
		return t.Seed()
	}
	if day.After(today) {
		return today
	}
	return day
}

// Advance records that processed was crawled; the next day to crawl becomes processed + 1.
func (t *Tracker) Advance(processed time.Time) (time.Time, error) {
	next := truncateDay(processed).AddDate(0, 0, 1)

	if dir := filepath.Dir(t.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return time.Time{}, fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
		}
	}
	if err := renameio.WriteFile(t.path, []byte(next.Format(Layout)+"\n"), 0o644); err != nil {
		return time.Time{}, fmt.Errorf("failed to write checkpoint %s: %w", t.path, err)
	}
	return next, nil
}

// Backlog reports whether next is today or earlier, meaning another run has a day to crawl.
func (t *Tracker) Backlog(next time.Time) bool {
	return !truncateDay(next).After(t.Today())
}

func truncateDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}
