package position

import (
	"strings"
	"testing"
)

const montySource = `result = []
for i in range(3):
    result.append(i * i)
result`

func pos(line, col, off int) Position {
	return Position{Filename: "script.py", Line: line, Column: col, Offset: off}
}

func TestPositionString(t *testing.T) {
	p := pos(2, 5, 17)
	if got := p.String(); got != "script.py:2:5" {
		t.Fatalf("String() = %q", got)
	}
	if got := (Position{Line: 3, Column: 1}).String(); got != "3:1" {
		t.Fatalf("bare String() = %q", got)
	}
}

func TestPositionValidity(t *testing.T) {
	if (Position{}).IsValid() {
		t.Fatal("zero Position must be invalid")
	}
	if !pos(1, 1, 0).IsValid() {
		t.Fatal("1:1 at offset 0 is valid")
	}
}

func TestSpanValidity(t *testing.T) {
	ok := Span{Start: pos(2, 1, 12), End: pos(2, 19, 30)}
	if !ok.IsValid() {
		t.Fatal("ordered same-file span is valid")
	}
	backwards := Span{Start: pos(2, 19, 30), End: pos(2, 1, 12)}
	if backwards.IsValid() {
		t.Fatal("end before start is invalid")
	}
	crossFile := Span{
		Start: pos(1, 1, 0),
		End:   Position{Filename: "other.py", Line: 1, Column: 2, Offset: 1},
	}
	if crossFile.IsValid() {
		t.Fatal("spans never cross files")
	}
}

func TestSourceFileLine(t *testing.T) {
	sf := NewSourceFile("script.py", montySource)
	if got := sf.Line(2); got != "for i in range(3):" {
		t.Fatalf("Line(2) = %q", got)
	}
	if got := sf.Line(0); got != "" {
		t.Fatalf("Line(0) = %q, want empty", got)
	}
	if got := sf.Line(99); got != "" {
		t.Fatalf("Line(99) = %q, want empty", got)
	}
	var nilFile *SourceFile
	if got := nilFile.Line(1); got != "" {
		t.Fatal("nil SourceFile must render no line")
	}
}

func TestPreviewUnderlinesSpan(t *testing.T) {
	sf := NewSourceFile("script.py", montySource)
	// Cover "range(3)" on line 2 (columns 10-18).
	span := Span{Start: pos(2, 10, 21), End: pos(2, 18, 29)}
	got := sf.Preview(span)
	want := "for i in range(3):\n         ^^^^^^^^"
	if got != want {
		t.Fatalf("Preview = %q, want %q", got, want)
	}
}

func TestPreviewWholeStatement(t *testing.T) {
	sf := NewSourceFile("script.py", montySource)
	// A span that only records its start point underlines one column.
	span := Span{Start: pos(4, 1, 53), End: pos(4, 2, 54)}
	got := sf.Preview(span)
	if !strings.HasPrefix(got, "result\n") {
		t.Fatalf("Preview should lead with the source line, got %q", got)
	}
	if !strings.HasSuffix(got, "^") {
		t.Fatalf("Preview should end with a caret, got %q", got)
	}
}

func TestPreviewMultiLineSpanUsesFirstLine(t *testing.T) {
	sf := NewSourceFile("script.py", montySource)
	span := Span{Start: pos(2, 1, 12), End: pos(3, 25, 55)}
	got := sf.Preview(span)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 || lines[0] != "for i in range(3):" {
		t.Fatalf("Preview = %q", got)
	}
	if lines[1] != strings.Repeat("^", len("for i in range(3):")) {
		t.Fatalf("multi-line span should underline to end of first line, got %q", lines[1])
	}
}

func TestPreviewOutOfRangeIsEmpty(t *testing.T) {
	sf := NewSourceFile("script.py", montySource)
	span := Span{Start: pos(42, 1, 0), End: pos(42, 5, 4)}
	if got := sf.Preview(span); got != "" {
		t.Fatalf("out-of-range Preview = %q, want empty", got)
	}
}

func TestPreviewClampsColumns(t *testing.T) {
	sf := NewSourceFile("script.py", "x = 1")
	span := Span{Start: pos(1, 90, 89), End: pos(1, 95, 94)}
	got := sf.Preview(span)
	// Clamped past end-of-line: one caret just after the line.
	if !strings.HasSuffix(got, "^") || strings.Count(got, "^") != 1 {
		t.Fatalf("clamped Preview = %q", got)
	}
}
