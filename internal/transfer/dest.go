package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrDestinationExists is returned instead of writing onto an existing
// host file.
var ErrDestinationExists = errors.New("destination already exists")

// maxRenameAttempts bounds the " (n)" suffixes tried by freeDestination.
const maxRenameAttempts = 999

// exists reports whether p names anything, including a dangling symlink.
func exists(fsys afero.Fs, p string) (bool, error) {
	var err error
	if ls, ok := fsys.(afero.Lstater); ok {
		_, _, err = ls.LstatIfPossible(p)
	} else {
		_, err = fsys.Stat(p)
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// freeDestination returns dst if nothing is there yet, otherwise the first
// free "name (n).ext" beside it.
func freeDestination(fsys afero.Fs, dst string) (string, error) {
	taken, err := exists(fsys, dst)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", dst, err)
	}
	if !taken {
		return dst, nil
	}

	dir, base := filepath.Split(dst)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	for n := 1; n <= maxRenameAttempts; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		taken, err := exists(fsys, candidate)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: no free name after %d attempts: %w", dst, maxRenameAttempts, ErrDestinationExists)
}
