package value

import (
	"strconv"
	"strings"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
)

// PrecisionNone is the in-band encoding for "no precision given"; the
// packed layout reserves 7 bits for precision, so 127 is unreachable as a
// real precision value.
const PrecisionNone = 127

// ParsedFormatSpec is the decoded form of a format mini-language spec
// such as ">05d". Width 0 means "no width"; Precision PrecisionNone means
// "no precision". Fill, Align and Sign are the literal spec characters,
// or zero when absent.
type ParsedFormatSpec struct {
	Fill      rune
	Align     byte
	Sign      byte
	ZeroPad   bool
	Width     int
	Precision int
	Type      byte
}

// specTypes maps the 4-bit packed type code to the spec's type character.
// Index 0 is "no type given".
var specTypes = [...]byte{0, 'd', 'b', 'o', 'x', 'X', 'e', 'E', 'f', 'g', 'G', 's', 'c', '%', 'n'}

var specAligns = [...]byte{0, '<', '>', '^', '='}

var specSigns = [...]byte{0, '+', '-', ' '}

func indexOf(table []byte, c byte) int {
	for i, v := range table {
		if v == c {
			return i
		}
	}
	return -1
}

// specTag marks a packed spec in the constant pool so it cannot collide
// with a real non-negative integer constant.
const specTag uint32 = 1 << 31

// EncodeSpec bit-packs s into 31 bits (fill 7, type 4, align 3, sign 2,
// zero 1, width 7, precision 7) and tags the high bit so the constant
// pool can tell it apart from an integer. Fill must be ASCII; callers
// parse dynamic (non-ASCII-fill) specs at runtime instead of packing them.
func EncodeSpec(s ParsedFormatSpec) uint32 {
	var u uint32
	u |= uint32(s.Fill) & 0x7f
	u <<= 4
	if i := indexOf(specTypes[:], s.Type); i > 0 {
		u |= uint32(i)
	}
	u <<= 3
	if i := indexOf(specAligns[:], s.Align); i > 0 {
		u |= uint32(i)
	}
	u <<= 2
	if i := indexOf(specSigns[:], s.Sign); i > 0 {
		u |= uint32(i)
	}
	u <<= 1
	if s.ZeroPad {
		u |= 1
	}
	u <<= 7
	u |= uint32(s.Width) & 0x7f
	u <<= 7
	u |= uint32(s.Precision) & 0x7f
	return u | specTag
}

// DecodeSpec is the inverse of EncodeSpec.
func DecodeSpec(u uint32) ParsedFormatSpec {
	u &^= specTag
	s := ParsedFormatSpec{}
	s.Precision = int(u & 0x7f)
	u >>= 7
	s.Width = int(u & 0x7f)
	u >>= 7
	s.ZeroPad = u&1 == 1
	u >>= 1
	s.Sign = specSigns[u&0x3]
	u >>= 2
	s.Align = specAligns[u&0x7]
	u >>= 3
	s.Type = specTypes[u&0xf]
	u >>= 4
	s.Fill = rune(u & 0x7f)
	return s
}

// IsSpecConst reports whether a pool-stored u32 carries the spec tag.
func IsSpecConst(u uint32) bool { return u&specTag != 0 }

// ParseFormatSpec parses the text of a format spec (the part after ":" in
// an f-string replacement field) into its structured form.
func ParseFormatSpec(spec string) (ParsedFormatSpec, *exception.Exception) {
	s := ParsedFormatSpec{Precision: PrecisionNone}
	r := []rune(spec)
	i := 0

	// [[fill]align]
	if len(r) >= 2 && isAlignChar(byte(r[1])) && r[1] < 128 {
		s.Fill = r[0]
		s.Align = byte(r[1])
		i = 2
	} else if len(r) >= 1 && r[0] < 128 && isAlignChar(byte(r[0])) {
		s.Align = byte(r[0])
		i = 1
	}

	if i < len(r) && (r[i] == '+' || r[i] == '-' || r[i] == ' ') {
		s.Sign = byte(r[i])
		i++
	}

	if i < len(r) && r[i] == '0' {
		s.ZeroPad = true
		i++
	}

	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		s.Width = s.Width*10 + int(r[i]-'0')
		if s.Width > 126 {
			return s, exception.New(exception.ValueError, "format width too large")
		}
		i++
	}

	if i < len(r) && r[i] == '.' {
		i++
		if i >= len(r) || r[i] < '0' || r[i] > '9' {
			return s, exception.New(exception.ValueError, "format specifier missing precision")
		}
		s.Precision = 0
		for i < len(r) && r[i] >= '0' && r[i] <= '9' {
			s.Precision = s.Precision*10 + int(r[i]-'0')
			if s.Precision > 126 {
				return s, exception.New(exception.ValueError, "format precision too large")
			}
			i++
		}
	}

	if i < len(r) {
		c := byte(r[i])
		if r[i] > 127 || indexOf(specTypes[1:], c) < 0 {
			return s, exception.New(exception.ValueError, "unknown format code %q", string(r[i]))
		}
		s.Type = c
		i++
	}

	if i != len(r) {
		return s, exception.New(exception.ValueError, "invalid format specifier %q", spec)
	}
	return s, nil
}

func isAlignChar(c byte) bool {
	return c == '<' || c == '>' || c == '^' || c == '='
}

// Format renders v according to spec, following the format mini-language:
// numeric codes require a numeric value, "s" requires a string, and an
// absent type code falls back to str() of the value.
func Format(h *heap.Heap, interns *intern.Table, v Value, spec ParsedFormatSpec) (string, *exception.Exception) {
	switch spec.Type {
	case 'd', 'b', 'o', 'x', 'X', 'c', 'n':
		i, ok := asExactInt(h, v)
		if !ok {
			return "", exception.New(exception.TypeError,
				"unknown format code %q for object of type %q", string(spec.Type), v.TypeName(h))
		}
		return padNumeric(formatInt(i, spec.Type), i < 0, spec), nil

	case 'e', 'E', 'f', 'F', 'g', 'G', '%':
		f, ok := asFloat(h, v)
		if !ok {
			return "", exception.New(exception.TypeError,
				"unknown format code %q for object of type %q", string(spec.Type), v.TypeName(h))
		}
		return padNumeric(formatFloat(f, spec), f < 0, spec), nil

	case 's', 0:
		if spec.Type == 0 && v.Tag != TagBool {
			if i, ok := asExactInt(h, v); ok {
				return padNumeric(strconv.FormatInt(i, 10), i < 0, spec), nil
			}
			if v.Tag == TagRef {
				if fl, ok := h.Get(v.Ref).(Float); ok {
					return padNumeric(formatFloat(fl.F, spec), fl.F < 0, spec), nil
				}
			}
		}
		s := ToStr(h, interns, v)
		if spec.Precision != PrecisionNone && spec.Precision < len([]rune(s)) {
			s = string([]rune(s)[:spec.Precision])
		}
		return padString(s, spec), nil

	default:
		return "", exception.New(exception.ValueError, "unknown format code %q", string(spec.Type))
	}
}

func asExactInt(h *heap.Heap, v Value) (int64, bool) {
	switch v.Tag {
	case TagBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case TagInt:
		return v.Int, true
	case TagRef:
		if li, ok := h.Get(v.Ref).(LongInt); ok && li.V.IsInt64() {
			return li.V.Int64(), true
		}
	}
	return 0, false
}

func formatInt(i int64, typeChar byte) string {
	abs := i
	neg := i < 0
	if neg {
		abs = -abs
	}
	var body string
	switch typeChar {
	case 'b':
		body = strconv.FormatInt(abs, 2)
	case 'o':
		body = strconv.FormatInt(abs, 8)
	case 'x':
		body = strconv.FormatInt(abs, 16)
	case 'X':
		body = strings.ToUpper(strconv.FormatInt(abs, 16))
	case 'c':
		return string(rune(i))
	default:
		body = strconv.FormatInt(abs, 10)
	}
	if neg {
		return "-" + body
	}
	return body
}

func formatFloat(f float64, spec ParsedFormatSpec) string {
	prec := spec.Precision
	if prec == PrecisionNone {
		prec = 6
	}
	switch spec.Type {
	case 'e':
		return strconv.FormatFloat(f, 'e', prec, 64)
	case 'E':
		return strconv.FormatFloat(f, 'E', prec, 64)
	case 'g':
		return strconv.FormatFloat(f, 'g', prec, 64)
	case 'G':
		return strconv.FormatFloat(f, 'G', prec, 64)
	case '%':
		return strconv.FormatFloat(f*100, 'f', prec, 64) + "%"
	case 0:
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	default:
		return strconv.FormatFloat(f, 'f', prec, 64)
	}
}

// padNumeric applies sign, zero-padding and alignment to an already
// rendered number. body carries its own "-" when negative.
func padNumeric(body string, negative bool, spec ParsedFormatSpec) string {
	sign := ""
	if negative {
		sign = "-"
		body = strings.TrimPrefix(body, "-")
	} else if spec.Sign == '+' {
		sign = "+"
	} else if spec.Sign == ' ' {
		sign = " "
	}

	width := spec.Width
	if width == 0 || len(sign)+len(body) >= width {
		return sign + body
	}
	pad := width - len(sign) - len(body)

	align := spec.Align
	if align == 0 {
		if spec.ZeroPad {
			align = '='
		} else {
			align = '>'
		}
	}

	fill := spec.Fill
	if fill == 0 {
		if spec.ZeroPad {
			fill = '0'
		} else {
			fill = ' '
		}
	}

	switch align {
	case '<':
		return sign + body + strings.Repeat(string(fill), pad)
	case '^':
		left := pad / 2
		return strings.Repeat(string(fill), left) + sign + body + strings.Repeat(string(fill), pad-left)
	case '=':
		return sign + strings.Repeat(string(fill), pad) + body
	default:
		return strings.Repeat(string(fill), pad) + sign + body
	}
}

func padString(s string, spec ParsedFormatSpec) string {
	width := spec.Width
	n := len([]rune(s))
	if width == 0 || n >= width {
		return s
	}
	pad := width - n

	fill := spec.Fill
	if fill == 0 {
		fill = ' '
	}
	switch spec.Align {
	case '>':
		return strings.Repeat(string(fill), pad) + s
	case '^':
		left := pad / 2
		return strings.Repeat(string(fill), left) + s + strings.Repeat(string(fill), pad-left)
	default:
		return s + strings.Repeat(string(fill), pad)
	}
}

// Convert applies an f-string conversion flag (!s, !r, !a) to v before
// formatting.
func Convert(h *heap.Heap, interns *intern.Table, v Value, conversion byte) string {
	switch conversion {
	case 'r':
		return Repr(h, interns, v)
	case 'a':
		return strconv.QuoteToASCII(ToStr(h, interns, v))
	default:
		return ToStr(h, interns, v)
	}
}
