package value

import (
	"testing"

	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/tracker"
)

func newHeap() *heap.Heap { return heap.New(tracker.NewUnbounded()) }

func TestSpecCodecRoundTrip(t *testing.T) {
	fills := []rune{0, ' ', '0', '*', 'x'}
	aligns := []byte{0, '<', '>', '^', '='}
	signs := []byte{0, '+', '-', ' '}
	types := []byte{0, 'd', 'b', 'o', 'x', 'X', 'e', 'E', 'f', 'g', 'G', 's', 'c', '%', 'n'}
	widths := []int{0, 1, 5, 64, 127}
	precisions := []int{PrecisionNone, 0, 1, 6, 126}

	for _, fill := range fills {
		for _, align := range aligns {
			for _, sign := range signs {
				for _, typ := range types {
					for _, width := range widths {
						for _, prec := range precisions {
							spec := ParsedFormatSpec{
								Fill: fill, Align: align, Sign: sign,
								ZeroPad: width%2 == 1, Width: width,
								Precision: prec, Type: typ,
							}
							got := DecodeSpec(EncodeSpec(spec))
							if got != spec {
								t.Fatalf("decode(encode(%+v)) = %+v", spec, got)
							}
						}
					}
				}
			}
		}
	}
}

func TestSpecConstTag(t *testing.T) {
	packed := EncodeSpec(ParsedFormatSpec{Width: 5, Type: 'd', Precision: PrecisionNone})
	if !IsSpecConst(packed) {
		t.Fatal("packed spec should carry the tag bit")
	}
}

func TestParseFormatSpec(t *testing.T) {
	cases := []struct {
		in   string
		want ParsedFormatSpec
	}{
		{">05d", ParsedFormatSpec{Align: '>', ZeroPad: true, Width: 5, Precision: PrecisionNone, Type: 'd'}},
		{"05d", ParsedFormatSpec{ZeroPad: true, Width: 5, Precision: PrecisionNone, Type: 'd'}},
		{"*^10", ParsedFormatSpec{Fill: '*', Align: '^', Width: 10, Precision: PrecisionNone}},
		{"+.3f", ParsedFormatSpec{Sign: '+', Precision: 3, Type: 'f'}},
		{"", ParsedFormatSpec{Precision: PrecisionNone}},
		{"x", ParsedFormatSpec{Precision: PrecisionNone, Type: 'x'}},
	}
	for _, tc := range cases {
		got, exc := ParseFormatSpec(tc.in)
		if exc != nil {
			t.Fatalf("ParseFormatSpec(%q): %v", tc.in, exc)
		}
		if got != tc.want {
			t.Fatalf("ParseFormatSpec(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseFormatSpecRejects(t *testing.T) {
	for _, in := range []string{"q", "5.q", "300d"} {
		if _, exc := ParseFormatSpec(in); exc == nil {
			t.Fatalf("ParseFormatSpec(%q) should fail", in)
		}
	}
}

func TestFormatInt(t *testing.T) {
	h := newHeap()
	interns := intern.New()

	cases := []struct {
		v    int64
		spec string
		want string
	}{
		{7, ">05d", "00007"},
		{7, "05d", "00007"},
		{-7, "05d", "-0007"},
		{255, "x", "ff"},
		{255, "X", "FF"},
		{1000, "d", "1000"},
		{5, "b", "101"},
		{8, "o", "10"},
		{42, "<6d", "42    "},
		{42, "^6d", "  42  "},
		{42, "+d", "+42"},
	}
	for _, tc := range cases {
		spec, exc := ParseFormatSpec(tc.spec)
		if exc != nil {
			t.Fatalf("spec %q: %v", tc.spec, exc)
		}
		got, ferr := Format(h, interns, Int(tc.v), spec)
		if ferr != nil {
			t.Fatalf("Format(%d, %q): %v", tc.v, tc.spec, ferr)
		}
		if got != tc.want {
			t.Fatalf("Format(%d, %q) = %q, want %q", tc.v, tc.spec, got, tc.want)
		}
	}
}

func TestFormatFloatAndString(t *testing.T) {
	h := newHeap()
	interns := intern.New()

	fid, _ := h.Allocate(Float{F: 3.14159})
	spec, _ := ParseFormatSpec(".2f")
	got, ferr := Format(h, interns, Ref(fid), spec)
	if ferr != nil || got != "3.14" {
		t.Fatalf("Format(3.14159, .2f) = %q, %v", got, ferr)
	}

	sid, _ := h.Allocate(Str{S: "hello"})
	spec, _ = ParseFormatSpec("*^9")
	got, ferr = Format(h, interns, Ref(sid), spec)
	if ferr != nil || got != "**hello**" {
		t.Fatalf("Format(hello, *^9) = %q, %v", got, ferr)
	}

	spec, _ = ParseFormatSpec(".3s")
	got, ferr = Format(h, interns, Ref(sid), spec)
	if ferr != nil || got != "hel" {
		t.Fatalf("Format(hello, .3s) = %q, %v", got, ferr)
	}
}

func TestFormatTypeMismatch(t *testing.T) {
	h := newHeap()
	interns := intern.New()

	sid, _ := h.Allocate(Str{S: "nope"})
	spec, _ := ParseFormatSpec("d")
	if _, ferr := Format(h, interns, Ref(sid), spec); ferr == nil {
		t.Fatal("formatting a string with format verb d should raise")
	}
}
