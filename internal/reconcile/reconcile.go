// Package reconcile decides which device files still need to be copied.
package reconcile

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/bamsammich/siphon/internal/device"
	"github.com/bamsammich/siphon/internal/ledger"
)

// IdentityPolicy selects how a file's ledger identity is derived.
type IdentityPolicy string

const (
	// PolicyPath identifies a file by its path relative to the source
	// root. A file replaced under the same name is not copied again.
	PolicyPath IdentityPolicy = "path"
	// PolicyContent adds size and modification time, so a replaced file
	// with the same name counts as new.
	PolicyContent IdentityPolicy = "content"
)

// ParsePolicy validates a policy name. The empty string means PolicyPath.
func ParsePolicy(s string) (IdentityPolicy, error) {
	switch IdentityPolicy(s) {
	case "", PolicyPath:
		return PolicyPath, nil
	case PolicyContent:
		return PolicyContent, nil
	default:
		return "", fmt.Errorf("unknown identity policy %q (want %q or %q)", s, PolicyPath, PolicyContent)
	}
}

// Task is one file to copy. Tasks are never persisted.
type Task struct {
	Source      string // absolute path on the device mount
	Destination string // absolute path on the host
	RelPath     string
	Identity    ledger.Identity
	Size        int64
	ModTime     time.Time
}

// Options configures Plan.
type Options struct {
	DstRoot string
	Policy  IdentityPolicy
}

// Identity derives the ledger identity of fi.
func (o Options) Identity(fi device.FileInfo) ledger.Identity {
	rel := path.Clean(fi.RelPath)
	if o.Policy == PolicyContent {
		return ledger.Identity(fmt.Sprintf("%s|%d|%d", rel, fi.Size, fi.ModTime.UnixNano()))
	}
	return ledger.Identity(rel)
}

// Destination maps fi to its preferred host path, preserving the relative
// layout. The executor copies beside it instead when the path is taken.
func (o Options) Destination(fi device.FileInfo) string {
	return filepath.Join(o.DstRoot, filepath.FromSlash(path.Clean(fi.RelPath)))
}

// Plan returns a task for every file whose identity the ledger does not
// contain, in the order of files. A file listed twice yields one task.
func Plan(l ledger.Reader, files []device.FileInfo, opts Options) []Task {
	pending := lo.Filter(files, func(fi device.FileInfo, _ int) bool {
		return !l.Contains(opts.Identity(fi))
	})
	pending = lo.UniqBy(pending, opts.Identity)

	return lo.Map(pending, func(fi device.FileInfo, _ int) Task {
		return Task{
			Source:      fi.Path,
			Destination: opts.Destination(fi),
			RelPath:     fi.RelPath,
			Identity:    opts.Identity(fi),
			Size:        fi.Size,
			ModTime:     fi.ModTime,
		}
	})
}
