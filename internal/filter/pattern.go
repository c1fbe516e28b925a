package filter

import (
	"regexp"
	"strings"
)

// pattern is a compiled rsync-style glob.
//
//	*      any run of characters except /
//	**     any run of characters including /
//	?      one character except /
//	[abc]  character class, [!abc] negated
//	/x     anchored to the source root
//	x/     directories only
type pattern struct {
	re      *regexp.Regexp
	glob    string
	dirOnly bool
}

func compile(glob string, ignoreCase bool) (*pattern, error) {
	p := &pattern{glob: glob}
	expr := glob

	if strings.HasSuffix(expr, "/") {
		p.dirOnly = true
		expr = strings.TrimSuffix(expr, "/")
	}

	anchored := strings.Contains(expr, "/")
	expr = strings.TrimPrefix(expr, "/")

	re := globToRegexp(expr)
	if anchored {
		re = "^" + re + "$"
	} else {
		re = "(^|/)" + re + "$"
	}
	if ignoreCase {
		re = "(?i)" + re
	}

	compiled, err := regexp.Compile(re)
	if err != nil {
		return nil, err
	}
	p.re = compiled
	return p, nil
}

func (p *pattern) match(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	return p.re.MatchString(relPath)
}

func (p *pattern) String() string { return p.glob }

//nolint:gocyclo // character-by-character glob translation
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); {
		c := glob[i]
		switch {
		case c == '*' && strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(.*/)?")
			i += 3
		case c == '*' && strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i += 2
		case c == '*':
			b.WriteString("[^/]*")
			i++
		case c == '?':
			b.WriteString("[^/]")
			i++
		case c == '[':
			end := classEnd(glob, i)
			if end < 0 {
				b.WriteString(`\[`)
				i++
				continue
			}
			class := glob[i+1 : end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i = end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}

// classEnd returns the index of the ] closing the class opened at start,
// or -1 when the class is unterminated.
func classEnd(glob string, start int) int {
	j := start + 1
	if j < len(glob) && glob[j] == '!' {
		j++
	}
	if j < len(glob) && glob[j] == ']' {
		j++
	}
	for j < len(glob) && glob[j] != ']' {
		j++
	}
	if j >= len(glob) {
		return -1
	}
	return j
}
