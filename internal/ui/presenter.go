// Package ui renders loop events for a person watching the terminal.
package ui

import (
	"io"
	"time"

	"github.com/bamsammich/siphon/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the summary line of the most recent pass.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     *stats.Collector
	Quiet     bool
	DryRun    bool

	// Width, when positive, shortens file paths so event lines fit a
	// terminal of that many columns.
	Width int

	// ProgressEvery is the interval between progress lines while a pass
	// is running; 0 means 5s.
	ProgressEvery time.Duration
}

// NewPresenter creates the presenter for cfg.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{errW: cfg.ErrWriter}
	}
	every := cfg.ProgressEvery
	if every <= 0 {
		every = 5 * time.Second
	}
	return &plainPresenter{
		w:      cfg.Writer,
		errW:   cfg.ErrWriter,
		stats:  cfg.Stats,
		dryRun: cfg.DryRun,
		every:  every,
		width:  cfg.Width,
	}
}
