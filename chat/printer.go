package chat

import (
	"fmt"
	"io"
)

type lineKind int

const (
	lineText lineKind = iota
	lineJoined
)

type outputLine struct {
	kind lineKind
	text string
}

// Printer renders reconciled output for the console.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Joined(name string) {
	fmt.Fprintf(p.w, "--> %s joined\n", name)
}

func (p *Printer) Message(name, text string) {
	fmt.Fprintf(p.w, "%s: %s\n", name, text)
}

func (p *Printer) flush(name string, queue []outputLine) {
	for _, l := range queue {
		switch l.kind {
		case lineJoined:
			p.Joined(name)
		default:
			p.Message(name, l.text)
		}
	}
}
