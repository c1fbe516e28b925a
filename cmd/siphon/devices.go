package main

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/bamsammich/siphon/internal/device"
)

func newDevicesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List USB devices and show which one siphon would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			closeLog, err := setupLogging(g)
			if err != nil {
				return startupErr(err)
			}
			defer closeLog()

			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return startupErr(err)
			}

			ctx := cmd.Context()
			enum := device.LsusbEnumerator{Command: cfg.Device.LsusbCommand}
			devices, err := enum.List(ctx)
			if err != nil {
				return runtimeErr(err)
			}

			w := cmd.OutOrStdout()
			matcher := device.Matcher{Name: cfg.Device.Name, ID: cfg.Device.ID}
			for _, d := range devices {
				fmt.Fprintf(w, "%s %s\n", lo.Ternary(matcher.Match(d), "*", " "), d)
			}
			if cfg.Device.Name == "" && cfg.Device.ID == "" {
				fmt.Fprintln(w, "\nno device configured; set [device] name or id, or pass --device")
				return nil
			}

			matches := lo.CountBy(devices, matcher.Match)
			fmt.Fprintf(w, "\n%d device(s) match %q\n", matches, matcher.String())

			loc, err := newLocator(cfg)
			if err != nil {
				return startupErr(err)
			}
			det, err := loc.Poll(ctx)
			if err != nil {
				return runtimeErr(err)
			}
			fmt.Fprintf(w, "state: %s\n", det.State)
			if det.Handle != nil {
				fmt.Fprintf(w, "using: %s\nroot:  %s\n", det.Handle, det.Handle.Root)
			}
			return nil
		},
	}
}
