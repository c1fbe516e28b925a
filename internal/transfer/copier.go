// Package transfer copies planned files off the device and records each
// one in the ledger once the copy has been confirmed.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// Copier copies one file from the device to the host. It never writes
// onto an existing dst; that case fails with ErrDestinationExists.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// CopierFunc adapts a function to Copier.
type CopierFunc func(ctx context.Context, src, dst string) error

func (f CopierFunc) Copy(ctx context.Context, src, dst string) error { return f(ctx, src, dst) }

// DefaultCopyCommand is run by CommandCopier when Argv is empty.
var DefaultCopyCommand = []string{"gio", "copy"}

// CommandCopier runs an external tool as `argv... src dst`. Success is a
// zero exit status.
type CommandCopier struct {
	Argv    []string
	Timeout time.Duration // per copy; 0 means none
}

// Copy runs the command, killing it once Timeout elapses. The tool is only
// started when dst is free, and whatever it left at dst is removed when it
// fails.
func (c CommandCopier) Copy(ctx context.Context, src, dst string) error {
	argv := c.Argv
	if len(argv) == 0 {
		argv = DefaultCopyCommand
	}
	hostFs := afero.NewOsFs()
	if taken, err := exists(hostFs, dst); err != nil {
		return fmt.Errorf("stat %s: %w", dst, err)
	} else if taken {
		return fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, argv[1:]...), src, dst)
	cmd := exec.CommandContext(ctx, argv[0], args...) //nolint:gosec // command comes from config
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	_ = hostFs.Remove(dst)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s: %w", argv[0], c.Timeout, ctx.Err())
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
	}
	return fmt.Errorf("%s: %w", argv[0], err)
}

// FSCopier copies through filesystem handles, for example the gvfs FUSE
// mount. Data goes to a temporary file beside dst which is renamed into
// place only after the full size has been written and synced.
type FSCopier struct {
	Src     afero.Fs
	Dst     afero.Fs
	Limiter *rate.Limiter // optional bandwidth cap
}

// NewFSCopier copies between two OS filesystems.
func NewFSCopier(limiter *rate.Limiter) FSCopier {
	return FSCopier{Src: afero.NewOsFs(), Dst: afero.NewOsFs(), Limiter: limiter}
}

// Copy streams src to dst, preserving the modification time.
func (c FSCopier) Copy(ctx context.Context, src, dst string) error {
	in, err := c.Src.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := c.ensureFree(dst); err != nil {
		return err
	}

	dir, base := filepath.Split(dst)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.siphon-tmp", base, uuid.New().String()[:8]))
	registerTmp(c.Dst, tmpPath)
	defer func() {
		deregisterTmp(tmpPath)
		_ = c.Dst.Remove(tmpPath) // no-op once renamed
	}()

	out, err := c.Dst.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create tmp %s: %w", tmpPath, err)
	}

	var r io.Reader = in
	if c.Limiter != nil {
		r = newRateLimitedReader(ctx, in, c.Limiter)
	}
	n, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if n != info.Size() {
		out.Close()
		return fmt.Errorf("copy %s: short copy: %d of %d bytes", src, n, info.Size())
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync tmp %s: %w", tmpPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close tmp %s: %w", tmpPath, err)
	}
	if err := c.Dst.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("set mtime %s: %w", tmpPath, err)
	}
	// dst may have appeared while copying
	if err := c.ensureFree(dst); err != nil {
		return err
	}
	if err := c.Dst.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, dst, err)
	}
	return nil
}

func (c FSCopier) ensureFree(dst string) error {
	taken, err := exists(c.Dst, dst)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dst, err)
	}
	if taken {
		return fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}
	return nil
}
