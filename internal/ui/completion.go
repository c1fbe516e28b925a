package ui

import (
	"fmt"

	"github.com/bamsammich/siphon/internal/stats"
)

// CompletionSummary builds the end-of-pass line.
// Format: done ✓  files 12  size 48.0 MiB  avg 3.20 MB/s  time 15s  known 230  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesCopied) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.FilesFailed > 0 {
		icon = "✗"
	}

	return fmt.Sprintf("done %s  files %s  size %s  avg %s  time %s  known %s  errors %d",
		icon,
		FormatCount(snap.FilesCopied),
		FormatBytes(snap.BytesCopied),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
		FormatCount(snap.FilesKnown),
		snap.FilesFailed,
	)
}
