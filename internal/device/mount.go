package device

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DefaultMountTemplate is where gvfs exposes an MTP device owned by the
// logged-in user. Placeholders: {uid}, {bus}, {device} (three digits,
// zero-padded) and {id}.
const DefaultMountTemplate = "/run/user/{uid}/gvfs/mtp:host=%5Busb%3A{bus}%2C{device}%5D"

// expandTemplate substitutes the placeholders of tmpl for d.
func expandTemplate(tmpl string, uid int, d USBDevice) string {
	r := strings.NewReplacer(
		"{uid}", strconv.Itoa(uid),
		"{bus}", fmt.Sprintf("%03d", d.Bus),
		"{device}", fmt.Sprintf("%03d", d.Device),
		"{id}", d.ID,
	)
	return r.Replace(tmpl)
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// resolveMount returns the mount directory for d, or "" when it is not
// mounted. A template containing glob metacharacters picks the first match
// in lexical order.
func resolveMount(fs afero.Fs, tmpl string, uid int, d USBDevice) (string, error) {
	path := expandTemplate(tmpl, uid, d)
	if !hasGlobMeta(path) {
		ok, err := afero.DirExists(fs, path)
		if err != nil {
			return "", fmt.Errorf("stat mount %s: %w", path, err)
		}
		if !ok {
			return "", nil
		}
		return path, nil
	}

	matches, err := afero.Glob(fs, path)
	if err != nil {
		return "", fmt.Errorf("glob mount %s: %w", path, err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, statErr := fs.Stat(m); statErr == nil && info.IsDir() {
			return m, nil
		}
	}
	return "", nil
}
