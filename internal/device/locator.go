// Package device finds the designated phone on USB, decides whether its
// storage is exposed, and lists the files under the configured source
// directory.
package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/bamsammich/siphon/internal/filter"
)

// ErrUnreachable means the device disappeared while it was being used.
// The current pass is abandoned; the watch loop goes back to waiting.
var ErrUnreachable = errors.New("device unreachable")

// State is the result of a single poll.
type State int

const (
	// Absent: no connected USB device matches.
	Absent State = iota
	// Unauthorized: the device is on the bus but its storage is not
	// exposed, usually because the phone has not allowed file access yet.
	Unauthorized
	// Ready: the source directory is reachable.
	Ready
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Unauthorized:
		return "unauthorized"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle is the connected, authorized device.
type Handle struct {
	Device    USBDevice
	MountPath string
	Root      string // MountPath joined with the source directory
}

func (h *Handle) String() string {
	return h.Device.String()
}

// FileInfo describes one file under the handle's root.
type FileInfo struct {
	RelPath string // slash-separated, relative to Root
	Path    string // absolute path on the mount
	Size    int64
	ModTime time.Time
}

// Detection is the outcome of Poll. Handle is set only when State is Ready.
// Candidates lists every matching device, in the order they were ranked.
type Detection struct {
	State      State
	Handle     *Handle
	Candidates []USBDevice
}

// AmbiguousError describes more than one device matching the criterion.
// It is logged, never returned from Poll.
type AmbiguousError struct {
	Chosen     USBDevice
	Candidates []USBDevice
}

func (e *AmbiguousError) Error() string {
	names := lo.Map(e.Candidates, func(d USBDevice, _ int) string { return d.String() })
	return fmt.Sprintf("%d devices match, using %q: %s",
		len(e.Candidates), e.Chosen.String(), strings.Join(names, "; "))
}

// Options configures a Locator.
type Options struct {
	Matcher       Matcher
	MountTemplate string // DefaultMountTemplate when empty
	SourceDir     string // relative to the mount, e.g. "Phone/DCIM/Camera"
	Recursive     bool
	Filter        *filter.Chain // nil accepts every file
	UID           int           // substituted for {uid}; 0 uses the current user
}

// Locator polls for the designated device and lists its files.
type Locator struct {
	enum Enumerator
	fs   afero.Fs
	opts Options
}

// NewLocator creates a Locator. fs is the host filesystem the gvfs mounts
// appear in (afero.NewOsFs in production).
func NewLocator(enum Enumerator, fsys afero.Fs, opts Options) *Locator {
	if opts.MountTemplate == "" {
		opts.MountTemplate = DefaultMountTemplate
	}
	if opts.UID == 0 {
		opts.UID = os.Getuid()
	}
	return &Locator{enum: enum, fs: fsys, opts: opts}
}

// Candidates returns the connected devices that match, ranked by
// (bus, device).
func (l *Locator) Candidates(ctx context.Context) ([]USBDevice, error) {
	devices, err := l.enum.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}
	matches := lo.Filter(devices, func(d USBDevice, _ int) bool {
		return l.opts.Matcher.Match(d)
	})
	slices.SortFunc(matches, func(a, b USBDevice) int {
		if c := cmp.Compare(a.Bus, b.Bus); c != 0 {
			return c
		}
		return cmp.Compare(a.Device, b.Device)
	})
	return matches, nil
}

// Poll checks once for the designated device.
func (l *Locator) Poll(ctx context.Context) (Detection, error) {
	matches, err := l.Candidates(ctx)
	if err != nil {
		return Detection{}, err
	}
	if len(matches) == 0 {
		return Detection{State: Absent}, nil
	}

	chosen := matches[0]
	det := Detection{State: Unauthorized, Candidates: matches}
	if len(matches) > 1 {
		amb := &AmbiguousError{Chosen: chosen, Candidates: matches}
		slog.Warn("ambiguous device", "device", chosen.String(), "candidates", len(matches), "error", amb)
	}

	mount, err := resolveMount(l.fs, l.opts.MountTemplate, l.opts.UID, chosen)
	if err != nil {
		return det, err
	}
	if mount == "" {
		slog.Debug("device not mounted", "device", chosen.String())
		return det, nil
	}

	root := filepath.Join(mount, filepath.FromSlash(l.opts.SourceDir))
	ok, err := afero.DirExists(l.fs, root)
	if err != nil {
		return det, fmt.Errorf("stat source root %s: %w", root, err)
	}
	if !ok {
		slog.Debug("source root not exposed", "device", chosen.String(), "root", root)
		return det, nil
	}

	det.State = Ready
	det.Handle = &Handle{Device: chosen, MountPath: mount, Root: root}
	return det, nil
}

// Walk calls fn for every regular file under h.Root that passes the filter,
// in lexical order. Unreadable entries are skipped. If the root disappears
// the walk stops with ErrUnreachable.
func (l *Locator) Walk(ctx context.Context, h *Handle, fn func(FileInfo) error) error {
	if ok, _ := afero.DirExists(l.fs, h.Root); !ok {
		return fmt.Errorf("%s: %w", h.Root, ErrUnreachable)
	}

	errGone := errors.New("root gone")
	walkErr := afero.Walk(l.fs, h.Root, func(p string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == h.Root {
				return errGone
			}
			slog.Debug("skipping unreadable entry", "path", p, "error", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if p == h.Root {
			return nil
		}
		rel, relErr := filepath.Rel(h.Root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if !l.opts.Recursive || !l.accept(rel, true, 0) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || !l.accept(rel, false, info.Size()) {
			return nil
		}
		return fn(FileInfo{
			RelPath: rel,
			Path:    p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	})

	if ok, _ := afero.DirExists(l.fs, h.Root); !ok || errors.Is(walkErr, errGone) {
		return fmt.Errorf("%s: %w", h.Root, ErrUnreachable)
	}
	return walkErr
}

func (l *Locator) accept(rel string, isDir bool, size int64) bool {
	if l.opts.Filter == nil {
		return true
	}
	return l.opts.Filter.Match(rel, isDir, size)
}

// ListFiles collects Walk's output.
func (l *Locator) ListFiles(ctx context.Context, h *Handle) ([]FileInfo, error) {
	var files []FileInfo
	err := l.Walk(ctx, h, func(fi FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Connected reports whether h's device is still on the bus and its root is
// still exposed. If enumeration fails only the root is checked.
func (l *Locator) Connected(ctx context.Context, h *Handle) bool {
	if ok, _ := afero.DirExists(l.fs, h.Root); !ok {
		return false
	}
	devices, err := l.enum.List(ctx)
	if err != nil {
		slog.Debug("usb enumeration failed, relying on mount", "error", err)
		return true
	}
	return lo.ContainsBy(devices, func(d USBDevice) bool {
		return d.Bus == h.Device.Bus && d.Device == h.Device.Device && d.ID == h.Device.ID
	})
}
