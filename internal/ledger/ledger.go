// Package ledger persists the identities of files that have already been
// transferred. The ledger is the only source of truth for "copied once":
// deleting a file from the destination never makes it eligible again.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Identity is the stable key of a transferred file.
type Identity string

// Record describes one transferred file.
type Record struct {
	Identity    Identity  `json:"id"`
	RelPath     string    `json:"path"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mtime"`
	Destination string    `json:"dst,omitempty"`
	Device      string    `json:"device,omitempty"`
	RecordedAt  time.Time `json:"at"`
}

// Reader is the read-only view used by the reconciler.
type Reader interface {
	Contains(id Identity) bool
}

// Ledger is a durable, append-only set of Records keyed by Identity.
type Ledger interface {
	Reader

	// Record persists rec before returning. Recording an identity that is
	// already present is a no-op.
	Record(rec Record) error

	// Records returns all records in the order they were recorded.
	Records() ([]Record, error)

	// Len returns the number of records.
	Len() int

	// Err returns a non-nil error matching ErrCorrupt once the storage can
	// no longer accept records.
	Err() error

	// Path returns the storage location.
	Path() string

	// Close releases the storage and the instance lock.
	Close() error
}

// Backend selects the on-disk format.
type Backend string

const (
	BackendLog    Backend = "log"
	BackendSQLite Backend = "sqlite"
)

var (
	// ErrCorrupt is matched by every error that means the ledger can no
	// longer be trusted: unparseable storage or a failed write.
	ErrCorrupt = errors.New("corrupt ledger")

	// ErrLocked is returned when another process holds the ledger.
	ErrLocked = errors.New("ledger is in use by another process")
)

// CorruptError carries the location of a ledger integrity failure.
type CorruptError struct {
	Path string
	Line int // 0 when not applicable
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt ledger %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("corrupt ledger %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCorrupt) hold for every CorruptError.
func (*CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Open loads the ledger at path, creating it if it does not exist, and
// takes the single-instance lock next to it.
//
//nolint:ireturn // factory returns interface by design
func Open(path string, backend Backend) (Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	var l Ledger
	switch backend {
	case BackendLog, "":
		l, err = openLog(path, lock)
	case BackendSQLite:
		l, err = openSQLite(path, lock)
	default:
		err = fmt.Errorf("unknown ledger backend %q", backend)
	}
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	return l, nil
}
