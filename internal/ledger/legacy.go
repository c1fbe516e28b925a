package ledger

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ImportLegacy reads a plain list of destination paths, one per line, and
// records each base name as a path identity. This is the format kept by
// earlier flat-directory setups (transferred_files.txt). It returns the
// number of identities that were new to l.
func ImportLegacy(l Ledger, r io.Reader, device string) (int, error) {
	scanner := bufio.NewScanner(r)
	now := time.Now()
	added := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name := path.Base(strings.ReplaceAll(line, "\\", "/"))
		if name == "." || name == "/" {
			return added, fmt.Errorf("line %d: no file name in %q", lineNum, line)
		}
		id := Identity(name)
		if l.Contains(id) {
			continue
		}
		if err := l.Record(Record{
			Identity:    id,
			RelPath:     name,
			Destination: line,
			Device:      device,
			RecordedAt:  now,
		}); err != nil {
			return added, err
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("read legacy list: %w", err)
	}
	return added, nil
}
