package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks transfer statistics using lock-free atomic counters.
// One Collector lives for the whole process; Reset clears the per-pass
// counters at the start of each pass.
type Collector struct {
	filesScanned atomic.Int64
	filesPlanned atomic.Int64
	filesCopied  atomic.Int64
	filesFailed  atomic.Int64
	filesKnown   atomic.Int64
	bytesCopied  atomic.Int64
	bytesPlanned atomic.Int64
	passes       atomic.Int64

	mu         sync.Mutex
	passStart  time.Time
	throughput [ringSize]int64 // bytes delta per tick
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with the pass start time set to now.
func NewCollector() *Collector {
	return &Collector{passStart: time.Now()}
}

// Reset zeroes the per-pass counters and starts a new pass clock.
func (c *Collector) Reset() {
	c.filesScanned.Store(0)
	c.filesPlanned.Store(0)
	c.filesCopied.Store(0)
	c.filesFailed.Store(0)
	c.filesKnown.Store(0)
	c.bytesCopied.Store(0)
	c.bytesPlanned.Store(0)
	c.passes.Add(1)

	c.mu.Lock()
	c.passStart = time.Now()
	c.throughput = [ringSize]int64{}
	c.ringIdx, c.ringCount, c.lastBytes = 0, 0, 0
	c.mu.Unlock()
}

// SetPlanned records the reconciliation result for the current pass.
func (c *Collector) SetPlanned(files, bytes int64) {
	c.filesPlanned.Store(files)
	c.bytesPlanned.Store(bytes)
}

func (c *Collector) AddFilesScanned(n int64) { c.filesScanned.Add(n) }
func (c *Collector) AddFilesCopied(n int64)  { c.filesCopied.Add(n) }
func (c *Collector) AddFilesFailed(n int64)  { c.filesFailed.Add(n) }
func (c *Collector) AddFilesKnown(n int64)   { c.filesKnown.Add(n) }
func (c *Collector) AddBytesCopied(n int64)  { c.bytesCopied.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesScanned int64
	FilesPlanned int64
	FilesCopied  int64
	FilesFailed  int64
	FilesKnown   int64 // already in the ledger
	BytesCopied  int64
	BytesPlanned int64
	Passes       int64
	Elapsed      time.Duration
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesScanned: c.filesScanned.Load(),
		FilesPlanned: c.filesPlanned.Load(),
		FilesCopied:  c.filesCopied.Load(),
		FilesFailed:  c.filesFailed.Load(),
		FilesKnown:   c.filesKnown.Load(),
		BytesCopied:  c.bytesCopied.Load(),
		BytesPlanned: c.bytesPlanned.Load(),
		Passes:       c.passes.Load(),
		Elapsed:      c.Elapsed(),
	}
}

// Tick snapshots the byte delta into the ring buffer. Called periodically
// by the presenter.
func (c *Collector) Tick() {
	current := c.bytesCopied.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns the average bytes per tick over the last n ticks.
func (c *Collector) RollingSpeed(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(n, c.ringCount)
	if count == 0 {
		return 0
	}
	var sum int64
	for i := range count {
		sum += c.throughput[(c.ringIdx-1-i+ringSize)%ringSize]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns the time since the current pass started.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.passStart)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"scanned=%d planned=%d copied=%d failed=%d known=%d bytes=%d",
		s.FilesScanned, s.FilesPlanned, s.FilesCopied, s.FilesFailed,
		s.FilesKnown, s.BytesCopied,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
