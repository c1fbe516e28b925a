package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/bamsammich/siphon/internal/device"
	"github.com/bamsammich/siphon/internal/event"
	"github.com/bamsammich/siphon/internal/ledger"
	"github.com/bamsammich/siphon/internal/reconcile"
	"github.com/bamsammich/siphon/internal/stats"
)

// DefaultProgressEvery is how many copies pass between progress log lines.
const DefaultProgressEvery = 10

// TransferError is a failed copy. The file was not recorded and stays
// eligible for the next pass.
type TransferError struct {
	Task reconcile.Task
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Task.RelPath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Config configures an Executor. Ledger and Copier are required.
type Config struct {
	Ledger ledger.Ledger
	Copier Copier
	DstFs  afero.Fs // where destination directories are created; OS when nil

	Device string // descriptor stored with each record
	PassID string

	// Alive is consulted after a failed copy; false aborts the pass with
	// device.ErrUnreachable.
	Alive func(ctx context.Context) bool

	Pacer         *rate.Limiter // spaces copy starts; nil disables
	DryRun        bool
	ProgressEvery int // DefaultProgressEvery when 0

	Events event.Emitter
	Stats  *stats.Collector
	Now    func() time.Time
}

// Summary is the outcome of RunPass.
type Summary struct {
	Planned  int
	Copied   int
	Skipped  int // dry run only
	Bytes    int64
	Failures []*TransferError
	Elapsed  time.Duration
}

// Failed returns the number of files whose copy failed.
func (s Summary) Failed() int { return len(s.Failures) }

// Executor runs the tasks of one pass, one at a time.
type Executor struct {
	cfg Config
}

// NewExecutor creates an Executor, filling in defaults.
func NewExecutor(cfg Config) *Executor {
	if cfg.DstFs == nil {
		cfg.DstFs = afero.NewOsFs()
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{cfg: cfg}
}

// Execute copies one task and records it. A copy failure returns a
// *TransferError and leaves the ledger untouched. A record failure, or a
// ledger that already refuses records, returns an error matching
// ledger.ErrCorrupt; nothing is copied in the second case. An existing host
// file is never replaced: the copy lands under the first free
// "name (n).ext" instead. The copy is not interrupted by ctx.
func (e *Executor) Execute(ctx context.Context, task reconcile.Task) error {
	if err := e.cfg.Ledger.Err(); err != nil {
		return e.ledgerFailure(task, err)
	}
	if err := e.cfg.DstFs.MkdirAll(filepath.Dir(task.Destination), 0o755); err != nil {
		return &TransferError{Task: task, Err: fmt.Errorf("create destination dir: %w", err)}
	}

	dst, err := freeDestination(e.cfg.DstFs, task.Destination)
	if err != nil {
		return &TransferError{Task: task, Err: err}
	}
	if dst != task.Destination {
		slog.Info("destination taken, copying under a new name",
			"pass", e.cfg.PassID, "path", task.RelPath, "taken", task.Destination, "dst", dst)
	}

	if err := e.cfg.Copier.Copy(context.WithoutCancel(ctx), task.Source, dst); err != nil {
		return &TransferError{Task: task, Err: err}
	}

	rec := ledger.Record{
		Identity:    task.Identity,
		RelPath:     task.RelPath,
		Size:        task.Size,
		ModTime:     task.ModTime,
		Destination: dst,
		Device:      e.cfg.Device,
		RecordedAt:  e.cfg.Now(),
	}
	if err := e.cfg.Ledger.Record(rec); err != nil {
		return e.ledgerFailure(task, err)
	}
	return nil
}

func (e *Executor) ledgerFailure(task reconcile.Task, err error) error {
	if !errors.Is(err, ledger.ErrCorrupt) {
		err = &ledger.CorruptError{Path: e.cfg.Ledger.Path(), Err: err}
	}
	return fmt.Errorf("record %s: %w", task.Identity, err)
}

// RunPass executes tasks in order. It keeps going past copy failures and
// stops on a ledger failure, on a vanished device, or when ctx is
// cancelled; cancellation takes effect between files.
func (e *Executor) RunPass(ctx context.Context, tasks []reconcile.Task) (Summary, error) {
	start := time.Now()
	sum := Summary{Planned: len(tasks)}
	stop := ctx.Done()

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		if e.cfg.Pacer != nil {
			if err := e.cfg.Pacer.Wait(ctx); err != nil {
				sum.Elapsed = time.Since(start)
				return sum, err
			}
		}

		e.emit(stop, event.Event{Type: event.FileStarted, Path: task.RelPath, Size: task.Size})
		if e.cfg.DryRun {
			slog.Info("would copy", "pass", e.cfg.PassID, "path", task.RelPath, "dst", task.Destination, "size", task.Size)
			sum.Skipped++
			e.emit(stop, event.Event{Type: event.FileSkipped, Path: task.RelPath, Size: task.Size})
			continue
		}

		err := e.Execute(ctx, task)
		var terr *TransferError
		switch {
		case err == nil:
			sum.Copied++
			sum.Bytes += task.Size
			if e.cfg.Stats != nil {
				e.cfg.Stats.AddFilesCopied(1)
				e.cfg.Stats.AddBytesCopied(task.Size)
			}
			slog.Debug("copied", "pass", e.cfg.PassID, "path", task.RelPath, "identity", string(task.Identity))
			e.emit(stop, event.Event{Type: event.FileCompleted, Path: task.RelPath, Size: task.Size})
			if sum.Copied%e.cfg.ProgressEvery == 0 {
				slog.Info("transfer progress", "pass", e.cfg.PassID, "copied", sum.Copied, "planned", sum.Planned)
			}

		case errors.As(err, &terr):
			sum.Failures = append(sum.Failures, terr)
			if e.cfg.Stats != nil {
				e.cfg.Stats.AddFilesFailed(1)
			}
			slog.Warn("transfer failed", "pass", e.cfg.PassID, "path", task.RelPath,
				"identity", string(task.Identity), "device", e.cfg.Device, "error", terr.Err)
			e.emit(stop, event.Event{Type: event.FileFailed, Path: task.RelPath, Size: task.Size, Error: terr})
			if e.cfg.Alive != nil && !e.cfg.Alive(ctx) {
				sum.Elapsed = time.Since(start)
				return sum, fmt.Errorf("%s: %w", e.cfg.Device, device.ErrUnreachable)
			}

		default:
			e.emit(stop, event.Event{Type: event.FileFailed, Path: task.RelPath, Size: task.Size, Error: err})
			sum.Elapsed = time.Since(start)
			return sum, err
		}
	}

	sum.Elapsed = time.Since(start)
	return sum, nil
}

func (e *Executor) emit(done <-chan struct{}, ev event.Event) {
	ev.Device = e.cfg.Device
	ev.PassID = e.cfg.PassID
	e.cfg.Events.Emit(done, ev)
}
