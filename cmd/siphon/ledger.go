package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/siphon/internal/config"
	"github.com/bamsammich/siphon/internal/ledger"
	"github.com/bamsammich/siphon/internal/ui"
)

func newLedgerCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the copy-once ledger",
	}
	cmd.AddCommand(newLedgerListCmd(g), newLedgerCheckCmd(g), newLedgerImportCmd(g))
	return cmd
}

// withLedger opens the configured ledger for a maintenance command.
func withLedger(cmd *cobra.Command, g *globalFlags, fn func(config.Config, ledger.Ledger) error) error {
	closeLog, err := setupLogging(g)
	if err != nil {
		return startupErr(err)
	}
	defer closeLog()

	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return startupErr(err)
	}
	l, err := openLedger(cfg)
	if err != nil {
		return startupErr(err)
	}
	defer l.Close()
	return fn(cfg, l)
}

func newLedgerListCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every recorded file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, g, func(_ config.Config, l ledger.Ledger) error {
				recs, err := l.Records()
				if err != nil {
					return runtimeErr(err)
				}
				w := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(w)
					for _, r := range recs {
						if err := enc.Encode(r); err != nil {
							return runtimeErr(err)
						}
					}
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RECORDED\tSIZE\tIDENTITY\tDESTINATION")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						r.RecordedAt.Local().Format(time.DateTime), ui.FormatBytes(r.Size), r.Identity, r.Destination)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "one JSON record per line")
	return cmd
}

func newLedgerCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that the ledger can be read; exits 2 if it is corrupt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, g, func(cfg config.Config, l ledger.Ledger) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s records, ok\n",
					l.Path(), cfg.Ledger.Backend, ui.FormatCount(int64(l.Len())))
				return nil
			})
		},
	}
}

func newLedgerImportCmd(g *globalFlags) *cobra.Command {
	var deviceDesc string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a transferred_files.txt list (one copied path per line)",
		Long: `Import a plain list of previously copied files, one destination path per
line. Each file is recorded under its base name, which matches the "path"
identity policy for a flat source directory. Already known names are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, g, func(_ config.Config, l ledger.Ledger) error {
				f, err := os.Open(args[0])
				if err != nil {
					return runtimeErr(err)
				}
				defer f.Close()

				n, err := ledger.ImportLegacy(l, f, deviceDesc)
				if err != nil {
					return runtimeErr(fmt.Errorf("import %s: %w", args[0], err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s\n", n, l.Path())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&deviceDesc, "device-desc", "", "device descriptor stored with imported records")
	return cmd
}
