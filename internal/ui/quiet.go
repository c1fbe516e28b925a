package ui

import (
	"fmt"
	"io"
)

// quietPresenter prints nothing but failures.
type quietPresenter struct {
	errW io.Writer
}

func (p *quietPresenter) Run(events <-chan Event) error {
	for ev := range events {
		p.handleEvent(ev)
	}
	return nil
}

func (p *quietPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case FileFailed:
		fmt.Fprintf(p.errW, "%s: %v\n", ev.Path, ev.Error)
	case PassAborted:
		fmt.Fprintf(p.errW, "pass %s aborted: %v\n", ShortID(ev.PassID), ev.Error)
	default:
	}
}

func (p *quietPresenter) Summary() string {
	return ""
}
