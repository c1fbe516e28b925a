package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bamsammich/siphon/internal/stats"
)

// plainPresenter writes one line per device or file event to w, and a
// progress line to errW every few seconds while a pass is running.
type plainPresenter struct {
	w      io.Writer
	errW   io.Writer
	stats  *stats.Collector
	dryRun bool
	every  time.Duration
	width  int

	mu      sync.Mutex
	active  bool
	summary string
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	sinceProgress := time.Duration(0)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			sinceProgress += time.Second
			if sinceProgress >= p.every {
				sinceProgress = 0
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case DeviceDetected:
		fmt.Fprintf(p.w, "device ready: %s\n", ev.Device)
	case DeviceUnauthorized:
		fmt.Fprintf(p.w, "device connected, allow file access on the phone: %s\n", ev.Device)
	case DeviceAmbiguous:
		fmt.Fprintf(p.errW, "warning: %d devices match, using %s\n", ev.Total, ev.Device)
	case DeviceDisconnected:
		fmt.Fprintf(p.w, "device disconnected: %s\n", ev.Device)
	case PassStarted:
		p.setActive(true)
	case ScanComplete:
		fmt.Fprintf(p.w, "pass %s: %s new files, %s\n",
			ShortID(ev.PassID), FormatCount(ev.Total), FormatBytes(ev.TotalSize))
	case FileCompleted:
		fmt.Fprintf(p.w, "%s  %s  %s\n", p.path(ev.Path), FormatBytes(ev.Size), FormatRate(p.stats.RollingSpeed(5)))
	case FileFailed:
		msg := "error"
		if ev.Error != nil {
			msg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  %s  FAILED %s\n", p.path(ev.Path), FormatBytes(ev.Size), msg)
	case FileSkipped:
		fmt.Fprintf(p.w, "%s  %s  would copy\n", p.path(ev.Path), FormatBytes(ev.Size))
	case PassComplete:
		p.finish("")
	case PassAborted:
		msg := "aborted"
		if ev.Error != nil {
			msg = "aborted: " + ev.Error.Error()
		}
		p.finish(msg)
	case FileStarted:
		// progress line covers in-flight files
	}
}

// path leaves room for the size and rate columns.
func (p *plainPresenter) path(s string) string {
	if p.width <= 0 {
		return s
	}
	return TruncatePath(s, max(p.width-32, 16))
}

func (p *plainPresenter) setActive(on bool) {
	p.mu.Lock()
	p.active = on
	p.mu.Unlock()
}

func (p *plainPresenter) finish(note string) {
	s := CompletionSummary(p.stats.Snapshot())
	if p.dryRun {
		s = "dry run: " + s
	}
	if note != "" {
		s += "  " + note
	}
	p.mu.Lock()
	p.active = false
	p.summary = s
	p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func (p *plainPresenter) printProgress() {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if !active {
		return
	}

	snap := p.stats.Snapshot()
	if snap.FilesPlanned == 0 {
		return
	}
	speed := p.stats.RollingSpeed(10)
	var eta time.Duration
	if speed > 0 {
		eta = time.Duration(float64(snap.BytesPlanned-snap.BytesCopied) / speed * float64(time.Second))
	}
	fmt.Fprintf(p.errW, "progress: %s/%s files %s/%s %s eta %s\n",
		FormatCount(snap.FilesCopied), FormatCount(snap.FilesPlanned),
		FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesPlanned),
		FormatRate(speed), FormatETA(eta),
	)
}

func (p *plainPresenter) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}
