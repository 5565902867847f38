// Package position tracks source locations from the lexer through the
// bytecode line table and out to host-visible tracebacks: a point in a
// file, a half-open span between two points, and the source-file view
// used to render "file:line" headers and caret-underlined previews for
// uncaught exceptions.
package position

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Position is a single point in source: 1-based line and column, 0-based
// byte offset. The zero value is "no position".
type Position struct {
	Filename string
	Line     int
	Column   int
	Offset   int
}

// IsValid reports whether p refers to a real source location.
func (p Position) IsValid() bool {
	return p.Line > 0 && p.Column > 0 && p.Offset >= 0
}

func (p Position) String() string {
	if p.Filename != "" {
		return fmt.Sprintf("%s:%d:%d", filepath.Base(p.Filename), p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span is the half-open range [Start, End) a statement or expression
// occupies. The bytecode emitter records one per line-table entry; the
// dispatch loop maps a program counter back to it when an exception
// escapes.
type Span struct {
	Start Position
	End   Position
}

// IsValid reports whether the span covers a real, single-file range.
func (s Span) IsValid() bool {
	return s.Start.IsValid() && s.End.IsValid() &&
		s.Start.Filename == s.End.Filename &&
		s.Start.Offset <= s.End.Offset
}

func (s Span) String() string {
	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%s-%d", s.Start, s.End.Column)
	}
	return fmt.Sprintf("%s-%d:%d", s.Start, s.End.Line, s.End.Column)
}

// SourceFile is the split-by-line view of one program's source, kept by
// the executor for the lifetime of its compiled program so error
// previews never re-read anything.
type SourceFile struct {
	Filename string
	lines    []string
}

// NewSourceFile splits content once; Line and Preview index the result.
func NewSourceFile(filename, content string) *SourceFile {
	return &SourceFile{
		Filename: filename,
		lines:    strings.Split(content, "\n"),
	}
}

// Line returns the 1-based source line, or "" when n is out of range
// (a span can point past the source when input came from a REPL buffer
// that has since changed).
func (sf *SourceFile) Line(n int) string {
	if sf == nil || n < 1 || n > len(sf.lines) {
		return ""
	}
	return sf.lines[n-1]
}

// Preview renders the traceback excerpt for span: the first source line
// it covers, then a caret underline beneath the covered columns. An
// invalid or out-of-range span previews as nothing rather than failing
// the traceback.
func (sf *SourceFile) Preview(span Span) string {
	line := sf.Line(span.Start.Line)
	if line == "" {
		return ""
	}

	start := span.Start.Column
	if start < 1 {
		start = 1
	}
	if start > len(line)+1 {
		start = len(line) + 1
	}
	end := len(line) + 1
	if span.End.Line == span.Start.Line && span.End.Column > start {
		end = span.End.Column
	}
	if end > len(line)+1 {
		end = len(line) + 1
	}
	width := end - start
	if width < 1 {
		width = 1
	}

	var b strings.Builder
	b.WriteString(line)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat(" ", start-1))
	b.WriteString(strings.Repeat("^", width))
	return b.String()
}
