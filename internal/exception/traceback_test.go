package exception

import (
	"strings"
	"testing"

	"github.com/monty-lang/monty/internal/position"
)

const raisingSource = `def fail(n):
    raise ValueError('bad input')
fail(3)`

func spanAt(line, startCol, endCol int) position.Span {
	return position.Span{
		Start: position.Position{Filename: "job.py", Line: line, Column: startCol, Offset: 0},
		End:   position.Position{Filename: "job.py", Line: line, Column: endCol, Offset: 0},
	}
}

func TestTracebackRender(t *testing.T) {
	sf := position.NewSourceFile("job.py", raisingSource)
	tb := Build([]Frame{
		{FuncName: "<module>", Span: spanAt(3, 1, 8)},
		{FuncName: "fail", Span: spanAt(2, 5, 34)},
	}, New(ValueError, "bad input"))

	out := tb.Render(sf)

	if !strings.HasPrefix(out, "Traceback (most recent call last):\n") {
		t.Fatalf("missing header: %q", out)
	}
	for _, want := range []string{
		`File "job.py", line 3, in <module>`,
		"fail(3)",
		`File "job.py", line 2, in fail`,
		"raise ValueError('bad input')",
		"ValueError: bad input",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered traceback missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "^") {
		t.Fatalf("traceback should caret-underline the failing spans:\n%s", out)
	}

	// Innermost frame renders last, just above the exception line.
	if strings.Index(out, "in <module>") > strings.Index(out, "in fail") {
		t.Fatalf("frames out of order:\n%s", out)
	}
}

func TestTracebackRenderWithCause(t *testing.T) {
	sf := position.NewSourceFile("job.py", raisingSource)
	cause := New(KeyError, "missing")
	tb := Build([]Frame{{FuncName: "<module>", Span: spanAt(3, 1, 8)}},
		New(ValueError, "bad input").WithCause(cause))

	out := tb.Render(sf)
	if !strings.Contains(out, "KeyError: missing") {
		t.Fatalf("cause missing from traceback:\n%s", out)
	}
	if !strings.Contains(out, "direct cause") {
		t.Fatalf("cause separator missing:\n%s", out)
	}
	if strings.Index(out, "KeyError") > strings.Index(out, "ValueError: bad input") {
		t.Fatalf("cause should render before the final exception:\n%s", out)
	}
}

func TestTracebackSurvivesMissingSource(t *testing.T) {
	sf := position.NewSourceFile("job.py", "x = 1")
	tb := Build([]Frame{{FuncName: "<module>", Span: spanAt(40, 1, 2)}},
		New(TypeError, ""))
	out := tb.Render(sf)
	if !strings.Contains(out, "TypeError") {
		t.Fatalf("traceback lost the exception:\n%s", out)
	}
}
