package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1 // a pass or command failed
	exitStartup = 2 // bad config, corrupt or locked ledger
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func startupErr(err error) error { return &exitError{code: exitStartup, err: err} }
func runtimeErr(err error) error { return &exitError{code: exitRuntime, err: err} }

func main() {
	os.Exit(run())
}

// globalFlags are shared by every subcommand. Overrides are only applied
// when the flag was given.
type globalFlags struct {
	configPath string
	verbose    bool
	quiet      bool
	logFile    string

	deviceName string
	deviceID   string
	sourceDir  string
	dest       string
	ledgerPath string
	backend    string
	identity   string
	method     string
	recursive  bool
	dryRun     bool
	include    []string
	exclude    []string
}

func run() int {
	return execute(os.Args[1:])
}

func execute(args []string) int {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "siphon",
		Short: "Copy new files off an Android phone every time it is plugged in, exactly once",
		Long: `siphon waits for a designated Android phone on USB, copies every file in its
camera directory that has not been copied before, and records each one in a
ledger. Files are never copied twice, even if the copy on this machine is
deleted later.

Without a subcommand siphon watches forever: wait for the phone, run one
transfer pass, wait for it to be unplugged, repeat.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, &g)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/siphon/config.toml)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "only print warnings and errors")
	pf.StringVar(&g.logFile, "log", "", "also write JSON logs to FILE")

	pf.StringVar(&g.deviceName, "device", "", "match devices whose lsusb description contains NAME")
	pf.StringVar(&g.deviceID, "device-id", "", "match devices by vendor:product ID")
	pf.StringVar(&g.sourceDir, "source-dir", "", "directory on the device, relative to its mount")
	pf.StringVarP(&g.dest, "dest", "d", "", "host destination directory")
	pf.StringVar(&g.ledgerPath, "ledger", "", "ledger file")
	pf.StringVar(&g.backend, "backend", "", "ledger backend (log or sqlite)")
	pf.StringVar(&g.identity, "identity", "", "identity policy (path or content)")
	pf.StringVar(&g.method, "method", "", "copy method (command or fs)")
	pf.BoolVarP(&g.recursive, "recursive", "r", false, "include subdirectories of the source directory")
	pf.BoolVar(&g.dryRun, "dry-run", false, "show what would be copied without copying or recording")
	pf.StringArrayVar(&g.include, "include", nil, "include files matching GLOB (repeatable)")
	pf.StringArrayVar(&g.exclude, "exclude", nil, "exclude files matching GLOB (repeatable)")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(
		newOnceCmd(&g),
		newDevicesCmd(&g),
		newLedgerCmd(&g),
		newConfigCmd(&g),
		newDocsCmd(),
	)

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitStartup
	}
	return exitOK
}
