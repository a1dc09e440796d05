package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/justapithecus/sluice/types"
)

// StreamPrinter writes reconciled updates to a terminal incrementally.
//
// Updates carry cumulative text, so each update is reduced to the suffix
// beyond what has already been printed. An update whose text does not
// extend the previous one is a message boundary: the printer emits a
// blank line and starts over with the new text.
type StreamPrinter struct {
	out  io.Writer
	last string
	done bool
}

// NewStreamPrinter creates a printer writing to out.
func NewStreamPrinter(out io.Writer) *StreamPrinter {
	return &StreamPrinter{out: out}
}

// Print writes the portion of u not yet shown. The final update gets a
// trailing newline so the shell prompt lands on its own line.
func (p *StreamPrinter) Print(u types.Update) error {
	if p.done {
		return nil
	}

	switch {
	case u.Text == p.last:
		// Duplicate snapshot, nothing new to show.
	case strings.HasPrefix(u.Text, p.last):
		if _, err := fmt.Fprint(p.out, u.Text[len(p.last):]); err != nil {
			return err
		}
		p.last = u.Text
	default:
		// New message boundary: separate from the previous message and
		// print the replacement text in full.
		sep := "\n\n"
		if p.last == "" {
			sep = ""
		}
		if _, err := fmt.Fprint(p.out, sep, u.Text); err != nil {
			return err
		}
		p.last = u.Text
	}

	if u.Final {
		p.done = true
		if p.last != "" {
			if _, err := fmt.Fprintln(p.out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Text returns the cumulative text printed so far for the current message.
func (p *StreamPrinter) Text() string {
	return p.last
}
