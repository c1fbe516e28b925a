package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppendHistory appends one line summarising a pass to the history log at
// path, creating the file if needed:
//
//	2024-05-01T12:00:00+02:00 transferred files: 12
func AppendHistory(path string, at time.Time, count int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s transferred files: %d\n", at.Format(time.RFC3339), count); err != nil {
		f.Close()
		return fmt.Errorf("write history: %w", err)
	}
	return f.Close()
}
