//go:build !unix

package ledger

// fileLock is a no-op where flock is unavailable; single-instance use is
// then the caller's responsibility.
type fileLock struct{}

func acquireLock(string) (*fileLock, error) { return &fileLock{}, nil }

func (*fileLock) release() error { return nil }
