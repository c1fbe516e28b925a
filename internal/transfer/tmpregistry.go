package transfer

import (
	"sync"

	"github.com/spf13/afero"
)

// tmpRegistry tracks in-progress temporary files so an interrupted process
// can remove them on the way out.
var globalTmpRegistry = &tmpRegistry{}

type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]afero.Fs
}

func registerTmp(fs afero.Fs, path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	if globalTmpRegistry.paths == nil {
		globalTmpRegistry.paths = make(map[string]afero.Fs)
	}
	globalTmpRegistry.paths[path] = fs
}

func deregisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	delete(globalTmpRegistry.paths, path)
}

// CleanupTmpFiles removes every registered temporary file and returns how
// many were registered.
func CleanupTmpFiles() int {
	globalTmpRegistry.mu.Lock()
	paths := globalTmpRegistry.paths
	globalTmpRegistry.paths = nil
	globalTmpRegistry.mu.Unlock()

	for p, fs := range paths {
		_ = fs.Remove(p)
	}
	return len(paths)
}
