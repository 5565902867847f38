package exception

import (
	"fmt"
	"strings"

	"github.com/monty-lang/monty/internal/position"
)

// Frame is one entry of a Traceback: the function name active at the time
// of the raise, and the span the program counter mapped to.
type Frame struct {
	FuncName string
	Span     position.Span
}

// Traceback is the host-visible rendering of an unwound Exception: one
// Frame per call level, innermost last, plus the exception that was never
// caught.
type Traceback struct {
	Frames []Frame
	Exc    *Exception
}

// Build assembles a Traceback from the frame stack active when exc
// propagated past every static exception table entry. frames is ordered
// outermost first, matching call order.
func Build(frames []Frame, exc *Exception) *Traceback {
	return &Traceback{Frames: append([]Frame(nil), frames...), Exc: exc}
}

// Render produces the multi-line, Python-style traceback text: one
// "File ..., in <func>" block per frame with a caret-underlined source
// excerpt drawn from sf, followed by the exception's kind and message.
func (tb *Traceback) Render(sf *position.SourceFile) string {
	var b strings.Builder
	b.WriteString("Traceback (most recent call last):\n")

	for _, f := range tb.Frames {
		fmt.Fprintf(&b, "  File %q, line %d, in %s\n", f.Span.Start.Filename, f.Span.Start.Line, f.FuncName)
		for _, line := range strings.Split(sf.Preview(f.Span), "\n") {
			if line == "" {
				continue
			}
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if tb.Exc.Cause != nil {
		b.WriteString(tb.Exc.Cause.Error())
		b.WriteString("\n\nThe above exception was the direct cause of the following exception:\n\n")
	}
	b.WriteString(tb.Exc.Error())
	b.WriteString("\n")

	return b.String()
}
