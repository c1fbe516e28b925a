package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/siphon/internal/device"
	"github.com/bamsammich/siphon/internal/ledger"
	"github.com/bamsammich/siphon/internal/watch"
)

func newOnceCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single transfer pass if the device is ready, then exit",
		Long: `Poll for the device once. If it is connected and its storage is exposed,
copy every file the ledger does not know yet and exit. Exits 1 when the
device is not ready or the pass did not finish cleanly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, g)
		},
	}
}

func runOnce(cmd *cobra.Command, g *globalFlags) error {
	a, err := newApp(cmd, g)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := a.loop.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, watch.ErrNotReady):
		return runtimeErr(err)
	case errors.Is(err, ledger.ErrCorrupt):
		return runtimeErr(fmt.Errorf("ledger write failed, pass stopped: %w", err))
	case errors.Is(err, device.ErrUnreachable):
		return runtimeErr(fmt.Errorf("device disconnected during the pass: %w", err))
	default:
		return runtimeErr(err)
	}

	if n := res.Summary.Failed(); n > 0 {
		for _, f := range res.Summary.Failures {
			slog.Debug("failed file", "path", f.Task.RelPath, "error", f.Err)
		}
		return runtimeErr(fmt.Errorf("%d of %d files failed to copy", n, res.Summary.Planned))
	}
	return nil
}
