// Package watch drives the device lifecycle: wait for the phone, run one
// transfer pass, wait for it to be unplugged, repeat.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/bamsammich/siphon/internal/device"
	"github.com/bamsammich/siphon/internal/event"
	"github.com/bamsammich/siphon/internal/ledger"
	"github.com/bamsammich/siphon/internal/reconcile"
	"github.com/bamsammich/siphon/internal/stats"
	"github.com/bamsammich/siphon/internal/transfer"
)

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultMaxPollInterval    = time.Minute
	DefaultDisconnectInterval = 5 * time.Second
)

var (
	// ErrPassInProgress is returned when a pass is requested while another
	// one is running.
	ErrPassInProgress = errors.New("a transfer pass is already running")

	// ErrNotReady is returned by RunOnce when the device is absent or has
	// not exposed its storage.
	ErrNotReady = errors.New("device not ready")
)

// Locator is the part of device.Locator the loop needs.
type Locator interface {
	Poll(ctx context.Context) (device.Detection, error)
	ListFiles(ctx context.Context, h *device.Handle) ([]device.FileInfo, error)
	Connected(ctx context.Context, h *device.Handle) bool
}

// Config configures a Loop. Locator, Ledger and Copier are required.
type Config struct {
	Locator Locator
	Ledger  ledger.Ledger
	Copier  transfer.Copier
	Plan    reconcile.Options
	DstFs   afero.Fs

	PollInterval       time.Duration // first wait while absent, and the wait while unauthorized
	MaxPollInterval    time.Duration // cap for the absent backoff
	DisconnectInterval time.Duration // wait between checks after a pass

	Pacer       *rate.Limiter
	DryRun      bool
	HistoryPath string // appended after each pass that copied files; "" disables

	Clock  clockwork.Clock
	Events event.Emitter
	Stats  *stats.Collector
}

// PassResult describes one finished pass.
type PassResult struct {
	ID      string
	Device  string
	Scanned int
	Known   int // already in the ledger
	Summary transfer.Summary
	Err     error
}

// Loop is the watch state machine. Step and Run must be called from one
// goroutine; State and LastPass may be read from others.
type Loop struct {
	cfg     Config
	running atomic.Bool

	mu       sync.Mutex
	state    State
	handle   *device.Handle
	lastSeen device.State
	backoff  time.Duration
	wait     time.Duration
	last     *PassResult
}

// New creates a Loop in WaitingForDevice.
func New(cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = max(DefaultMaxPollInterval, cfg.PollInterval)
	}
	if cfg.DisconnectInterval <= 0 {
		cfg.DisconnectInterval = DefaultDisconnectInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	return &Loop{cfg: cfg, state: WaitingForDevice, backoff: cfg.PollInterval}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// NextWait is how long Run sleeps before the next Step.
func (l *Loop) NextWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wait
}

// LastPass returns the most recent pass result, if any.
func (l *Loop) LastPass() (PassResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return PassResult{}, false
	}
	return *l.last, true
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != s {
		slog.Debug("state change", "from", l.state.String(), "to", s.String())
	}
	l.state = s
}

// Step performs one transition attempt from the current state. Pass
// failures are logged and kept in LastPass; they never stop the loop.
func (l *Loop) Step(ctx context.Context) error {
	switch l.State() {
	case WaitingForDevice:
		l.stepWaiting(ctx)
	case DeviceReady, Transferring:
		return l.stepTransfer(ctx)
	case WaitingForDisconnect:
		l.stepDisconnect(ctx)
	}
	return nil
}

func (l *Loop) stepWaiting(ctx context.Context) {
	det, err := l.cfg.Locator.Poll(ctx)
	if err != nil {
		slog.Warn("device poll failed", "error", err)
		l.setWait(l.cfg.PollInterval, true)
		return
	}

	l.mu.Lock()
	changed := det.State != l.lastSeen
	l.lastSeen = det.State
	l.mu.Unlock()

	done := ctx.Done()
	switch det.State {
	case device.Absent:
		l.mu.Lock()
		l.wait = l.backoff
		l.backoff = min(l.backoff*2, l.cfg.MaxPollInterval)
		l.mu.Unlock()

	case device.Unauthorized:
		l.setWait(l.cfg.PollInterval, true)
		if changed {
			desc := lo.FirstOrEmpty(det.Candidates).String()
			slog.Info("device present but storage not exposed, allow file access on the phone", "device", desc)
			l.cfg.Events.Emit(done, event.Event{Type: event.DeviceUnauthorized, Device: desc})
		}

	case device.Ready:
		desc := det.Handle.String()
		if len(det.Candidates) > 1 {
			l.cfg.Events.Emit(done, event.Event{
				Type:   event.DeviceAmbiguous,
				Device: desc,
				Total:  int64(len(det.Candidates)),
			})
		}
		slog.Info("device ready", "device", desc, "root", det.Handle.Root)
		l.cfg.Events.Emit(done, event.Event{Type: event.DeviceDetected, Device: desc})

		l.mu.Lock()
		l.handle = det.Handle
		l.state = DeviceReady
		l.mu.Unlock()
		l.setWait(0, true)
	}
}

func (l *Loop) stepTransfer(ctx context.Context) error {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()

	if !l.running.CompareAndSwap(false, true) {
		l.setWait(l.cfg.PollInterval, false)
		return ErrPassInProgress
	}
	l.setState(Transferring)
	res := l.pass(ctx, h)
	l.running.Store(false)

	l.mu.Lock()
	l.last = &res
	if errors.Is(res.Err, device.ErrUnreachable) {
		l.state = WaitingForDevice
		l.handle = nil
		l.lastSeen = device.Absent
		l.wait = l.cfg.PollInterval
	} else {
		l.state = WaitingForDisconnect
		l.wait = l.cfg.DisconnectInterval
	}
	l.mu.Unlock()
	return nil
}

func (l *Loop) stepDisconnect(ctx context.Context) {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()

	if h != nil && l.cfg.Locator.Connected(ctx, h) {
		l.setWait(l.cfg.DisconnectInterval, false)
		return
	}

	desc := ""
	if h != nil {
		desc = h.String()
	}
	slog.Info("device disconnected", "device", desc)
	l.cfg.Events.Emit(ctx.Done(), event.Event{Type: event.DeviceDisconnected, Device: desc})

	l.mu.Lock()
	l.state = WaitingForDevice
	l.handle = nil
	l.lastSeen = device.Absent
	l.mu.Unlock()
	l.setWait(l.cfg.PollInterval, true)
}

// setWait sets the next sleep; reset also restarts the absent backoff.
func (l *Loop) setWait(d time.Duration, reset bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wait = d
	if reset {
		l.backoff = l.cfg.PollInterval
	}
}

// Run steps until ctx is cancelled, sleeping on the configured clock
// between steps. It only returns once ctx is done, and then returns nil.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("watching for device", "poll", l.cfg.PollInterval.String())
	for {
		if err := l.Step(ctx); err != nil {
			slog.Warn("step skipped", "state", l.State().String(), "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		wait := l.NextWait()
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.cfg.Clock.After(wait):
		}
	}
}

// RunOnce polls once and, if the device is ready, runs a single pass.
func (l *Loop) RunOnce(ctx context.Context) (PassResult, error) {
	det, err := l.cfg.Locator.Poll(ctx)
	if err != nil {
		return PassResult{}, err
	}
	if det.State != device.Ready {
		return PassResult{}, fmt.Errorf("%w: %s", ErrNotReady, det.State)
	}
	if !l.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	defer l.running.Store(false)

	res := l.pass(ctx, det.Handle)
	l.mu.Lock()
	l.last = &res
	l.mu.Unlock()
	return res, res.Err
}

// pass lists, plans and executes. The caller holds the running flag.
func (l *Loop) pass(ctx context.Context, h *device.Handle) PassResult {
	res := PassResult{ID: uuid.NewString(), Device: h.String()}
	log := slog.With("pass", res.ID, "device", res.Device)
	emit := func(ev event.Event) {
		ev.PassID = res.ID
		ev.Device = res.Device
		l.cfg.Events.Emit(ctx.Done(), ev)
	}

	l.cfg.Stats.Reset()
	log.Info("pass started", "root", h.Root, "dry_run", l.cfg.DryRun)
	emit(event.Event{Type: event.PassStarted})

	files, err := l.cfg.Locator.ListFiles(ctx, h)
	if err != nil {
		res.Err = fmt.Errorf("list files: %w", err)
		log.Warn("pass aborted", "error", res.Err)
		emit(event.Event{Type: event.PassAborted, Error: res.Err})
		return res
	}

	tasks := reconcile.Plan(l.cfg.Ledger, files, l.cfg.Plan)
	planned := lo.SumBy(tasks, func(t reconcile.Task) int64 { return t.Size })
	res.Scanned = len(files)
	res.Known = len(files) - len(tasks)
	l.cfg.Stats.AddFilesScanned(int64(res.Scanned))
	l.cfg.Stats.AddFilesKnown(int64(res.Known))
	l.cfg.Stats.SetPlanned(int64(len(tasks)), planned)
	log.Info("reconciled", "files", res.Scanned, "known", res.Known, "new", len(tasks))
	emit(event.Event{Type: event.ScanComplete, Total: int64(len(tasks)), TotalSize: planned})

	ex := transfer.NewExecutor(transfer.Config{
		Ledger: l.cfg.Ledger,
		Copier: l.cfg.Copier,
		DstFs:  l.cfg.DstFs,
		Device: res.Device,
		PassID: res.ID,
		Alive: func(ctx context.Context) bool {
			return l.cfg.Locator.Connected(ctx, h)
		},
		Pacer:  l.cfg.Pacer,
		DryRun: l.cfg.DryRun,
		Events: l.cfg.Events,
		Stats:  l.cfg.Stats,
		Now:    l.cfg.Clock.Now,
	})
	res.Summary, res.Err = ex.RunPass(ctx, tasks)

	if res.Summary.Copied > 0 && l.cfg.HistoryPath != "" {
		if err := ledger.AppendHistory(l.cfg.HistoryPath, l.cfg.Clock.Now(), res.Summary.Copied); err != nil {
			log.Warn("history append failed", "path", l.cfg.HistoryPath, "error", err)
		}
	}

	attrs := []any{
		"copied", res.Summary.Copied,
		"failed", res.Summary.Failed(),
		"bytes", res.Summary.Bytes,
		"elapsed", res.Summary.Elapsed.Round(time.Millisecond).String(),
	}
	switch {
	case res.Err == nil:
		log.Info("pass complete", attrs...)
		emit(event.Event{Type: event.PassComplete, Total: int64(res.Summary.Copied), TotalSize: res.Summary.Bytes})
	case errors.Is(res.Err, ledger.ErrCorrupt):
		log.Error("pass stopped: ledger write failed", append(attrs, "error", res.Err)...)
		emit(event.Event{Type: event.PassAborted, Error: res.Err})
	default:
		log.Warn("pass aborted", append(attrs, "error", res.Err)...)
		emit(event.Event{Type: event.PassAborted, Error: res.Err})
	}
	return res
}
