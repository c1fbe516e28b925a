package ui

import (
	"os"

	"golang.org/x/term"
)

// TerminalWidth reports the column count of f when it is a terminal.
// ok is false for pipes, files and the journal of a service manager.
func TerminalWidth(f *os.File) (width int, ok bool) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0, false
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80, true
	}
	return w, true
}
