package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/siphon/internal/config"
	"github.com/bamsammich/siphon/internal/device"
	"github.com/bamsammich/siphon/internal/event"
	"github.com/bamsammich/siphon/internal/ledger"
	"github.com/bamsammich/siphon/internal/reconcile"
	"github.com/bamsammich/siphon/internal/stats"
	"github.com/bamsammich/siphon/internal/transfer"
	"github.com/bamsammich/siphon/internal/ui"
	"github.com/bamsammich/siphon/internal/watch"
)

// setupLogging installs the default slog logger. The returned func closes
// the log file, if any.
func setupLogging(g *globalFlags) (func(), error) {
	level := slog.LevelInfo
	switch {
	case g.verbose:
		level = slog.LevelDebug
	case g.quiet:
		level = slog.LevelWarn
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	var handler slog.Handler = textHandler
	closer := func() {}
	if g.logFile != "" {
		lf, err := os.OpenFile(g.logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		closer = func() { lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(handler))
	return closer, nil
}

// loadConfig reads the config file and environment, then applies the
// flags that were set on the command line.
func loadConfig(cmd *cobra.Command, g *globalFlags) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, val string) { overrideString(flags, name, dst, val) }
	set("device", &cfg.Device.Name, g.deviceName)
	set("device-id", &cfg.Device.ID, g.deviceID)
	set("source-dir", &cfg.Device.SourceDir, g.sourceDir)
	set("dest", &cfg.Transfer.Destination, g.dest)
	set("ledger", &cfg.Ledger.Path, g.ledgerPath)
	set("backend", &cfg.Ledger.Backend, g.backend)
	set("identity", &cfg.Ledger.Identity, g.identity)
	set("method", &cfg.Transfer.Method, g.method)
	if flags.Changed("recursive") {
		cfg.Device.Recursive = g.recursive
	}
	if flags.Changed("dry-run") {
		cfg.Transfer.DryRun = g.dryRun
	}
	cfg.Filter.Include = append(cfg.Filter.Include, g.include...)
	cfg.Filter.Exclude = append(cfg.Filter.Exclude, g.exclude...)
	return cfg, nil
}

func overrideString(flags *pflag.FlagSet, name string, dst *string, val string) {
	if flags.Changed(name) {
		*dst = val
	}
}

// openLedger opens the configured ledger. Every failure is a startup
// failure.
func openLedger(cfg config.Config) (ledger.Ledger, error) {
	l, err := ledger.Open(cfg.Ledger.Path, ledger.Backend(cfg.Ledger.Backend))
	switch {
	case err == nil:
		slog.Debug("ledger opened", "path", l.Path(), "backend", cfg.Ledger.Backend, "records", l.Len())
		return l, nil
	case errors.Is(err, ledger.ErrCorrupt):
		return nil, fmt.Errorf("%w\nrefusing to start; inspect it with `siphon ledger check` or move it aside", err)
	case errors.Is(err, ledger.ErrLocked):
		return nil, fmt.Errorf("%s: %w", cfg.Ledger.Path, err)
	default:
		return nil, fmt.Errorf("open ledger: %w", err)
	}
}

func newLocator(cfg config.Config) (*device.Locator, error) {
	chain, err := cfg.Filter.Chain()
	if err != nil {
		return nil, err
	}
	return device.NewLocator(
		device.LsusbEnumerator{Command: cfg.Device.LsusbCommand},
		afero.NewOsFs(),
		device.Options{
			Matcher:       device.Matcher{Name: cfg.Device.Name, ID: cfg.Device.ID},
			MountTemplate: cfg.Device.MountTemplate,
			SourceDir:     cfg.Device.SourceDir,
			Recursive:     cfg.Device.Recursive,
			Filter:        chain,
			UID:           cfg.Device.UID,
		},
	), nil
}

//nolint:ireturn // factory returns interface by design
func newCopier(cfg config.Config) (transfer.Copier, error) {
	bw, err := cfg.Transfer.BandwidthLimit()
	if err != nil {
		return nil, err
	}
	if cfg.Transfer.Method == "fs" {
		c := transfer.NewFSCopier(nil)
		if bw > 0 {
			c.Limiter = transfer.NewBWLimiter(bw)
		}
		return c, nil
	}
	if bw > 0 {
		slog.Warn("bwlimit only applies to the fs copy method", "method", cfg.Transfer.Method)
	}
	return transfer.CommandCopier{Argv: cfg.Transfer.Command, Timeout: cfg.Transfer.Timeout}, nil
}

// app holds everything a watch or once run needs.
type app struct {
	cfg       config.Config
	ledger    ledger.Ledger
	loop      *watch.Loop
	collector *stats.Collector
	events    chan event.Event
	presented sync.WaitGroup
	presenter ui.Presenter
	closeLog  func()
}

// newApp validates the configuration and opens the ledger. Errors are
// startup failures.
func newApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	closeLog, err := setupLogging(g)
	if err != nil {
		return nil, startupErr(err)
	}
	a := &app{closeLog: closeLog}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, startupErr(err)
	}

	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	a.cfg = cfg

	policy, err := reconcile.ParsePolicy(cfg.Ledger.Identity)
	if err != nil {
		return fail(err)
	}
	loc, err := newLocator(cfg)
	if err != nil {
		return fail(err)
	}
	copier, err := newCopier(cfg)
	if err != nil {
		return fail(err)
	}
	if a.ledger, err = openLedger(cfg); err != nil {
		return fail(err)
	}

	a.collector = stats.NewCollector()
	a.startPresenter(g)

	history := cfg.Ledger.History
	if cfg.Transfer.DryRun {
		history = ""
		slog.Info("dry run mode")
	}
	a.loop = watch.New(watch.Config{
		Locator:            loc,
		Ledger:             a.ledger,
		Copier:             copier,
		Plan:               reconcile.Options{DstRoot: cfg.Transfer.Destination, Policy: policy},
		DstFs:              afero.NewOsFs(),
		PollInterval:       cfg.Watch.PollInterval,
		MaxPollInterval:    cfg.Watch.MaxPollInterval,
		DisconnectInterval: cfg.Watch.DisconnectInterval,
		Pacer:              transfer.NewPacer(cfg.Transfer.Pace),
		DryRun:             cfg.Transfer.DryRun,
		HistoryPath:        history,
		Events:             a.events,
		Stats:              a.collector,
	})
	return a, nil
}

// startPresenter wires the event channel to a presenter. With --log every
// event is also written as a structured record.
func (a *app) startPresenter(g *globalFlags) {
	a.events = make(chan event.Event, 256)
	pcfg := ui.Config{
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Stats:     a.collector,
		Quiet:     g.quiet,
		DryRun:    a.cfg.Transfer.DryRun,
	}
	if w, ok := ui.TerminalWidth(os.Stdout); ok {
		pcfg.Width = w
	} else {
		pcfg.ProgressEvery = 30 * time.Second
	}
	a.presenter = ui.NewPresenter(pcfg)

	presenterEvents := (<-chan event.Event)(a.events)
	if g.logFile != "" {
		teed := make(chan event.Event, 256)
		go func() {
			for ev := range a.events {
				attrs := []slog.Attr{
					slog.String("type", ev.Type.String()),
					slog.String("pass", ev.PassID),
					slog.String("device", ev.Device),
					slog.String("path", ev.Path),
					slog.Int64("size", ev.Size),
				}
				if ev.Error != nil {
					attrs = append(attrs, slog.String("error", ev.Error.Error()))
				}
				slog.LogAttrs(context.Background(), slog.LevelDebug, "siphon.event", attrs...)
				teed <- ev
			}
			close(teed)
		}()
		presenterEvents = teed
	}

	a.presented.Add(1)
	go func() {
		defer a.presented.Done()
		if err := a.presenter.Run(presenterEvents); err != nil {
			fmt.Fprintf(os.Stderr, "presenter: %v\n", err)
		}
	}()
}

func (a *app) close() {
	if n := transfer.CleanupTmpFiles(); n > 0 {
		slog.Info("removed partial copies", "count", n)
	}
	if a.events != nil {
		close(a.events)
		a.presented.Wait()
		a.events = nil
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			slog.Warn("close ledger", "error", err)
		}
		a.ledger = nil
	}
	if a.closeLog != nil {
		a.closeLog()
		a.closeLog = nil
	}
}
