// Package filter decides which device files are candidates for transfer.
package filter

import "strings"

// Rule is a single include or exclude glob.
type Rule struct {
	pattern *pattern
	Include bool
}

// Chain is an ordered rule list plus size limits. The first rule that
// matches a path decides; a path no rule matches is included.
type Chain struct {
	rules      []Rule
	minSize    int64
	maxSize    int64
	skipHidden bool
	ignoreCase bool
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// IgnoreCase makes rules added afterwards match case-insensitively, so
// "*.jpg" also matches "IMG_0001.JPG".
func (c *Chain) IgnoreCase(on bool) { c.ignoreCase = on }

// SkipHidden excludes every path with a component starting with ".",
// such as ".thumbnails/" or Android's ".trashed-*" files.
func (c *Chain) SkipHidden(on bool) { c.skipHidden = on }

// AddExclude appends an exclude rule.
func (c *Chain) AddExclude(glob string) error { return c.add(glob, false) }

// AddInclude appends an include rule.
func (c *Chain) AddInclude(glob string) error { return c.add(glob, true) }

func (c *Chain) add(glob string, include bool) error {
	p, err := compile(glob, c.ignoreCase)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{pattern: p, Include: include})
	return nil
}

// SetMinSize drops files smaller than n bytes (0 disables).
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize drops files larger than n bytes (0 disables).
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Len returns the number of rules.
func (c *Chain) Len() int { return len(c.rules) }

// Match reports whether relPath (slash-separated, relative to the device
// source root) should be considered. size is ignored for directories.
func (c *Chain) Match(relPath string, isDir bool, size int64) bool {
	if c.skipHidden && hasHiddenComponent(relPath) {
		return false
	}
	if !isDir {
		if c.minSize > 0 && size < c.minSize {
			return false
		}
		if c.maxSize > 0 && size > c.maxSize {
			return false
		}
	}
	for _, rule := range c.rules {
		if rule.pattern.match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}

func hasHiddenComponent(relPath string) bool {
	for part := range strings.SplitSeq(relPath, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
