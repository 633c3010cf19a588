package edm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// LineType identifies a `$X` header line.
type LineType byte

const (
	LineRegistration LineType = 'U'
	LineAlarms       LineType = 'A'
	LineFuelFlow     LineType = 'F'
	LineTimestamp    LineType = 'T'
	LineConfig       LineType = 'C'
	LineProtocol     LineType = 'P'
	LineFuelLevel    LineType = 'H'
	LineCarb         LineType = 'I'
	LineFlight       LineType = 'D'
	LineLast         LineType = 'L'
)

func (t LineType) Valid() bool {
	switch t {
	case LineRegistration, LineAlarms, LineFuelFlow, LineTimestamp, LineConfig,
		LineProtocol, LineFuelLevel, LineCarb, LineFlight, LineLast:
		return true
	}
	return false
}

func (t LineType) String() string {
	return "$" + string(rune(t))
}

// HeaderLine is one scanned `$X,...*HH\r\n` line.
type HeaderLine struct {
	Type       LineType
	Fields     []string
	Offset     int
	Stored     uint8
	Computed   uint8
	ChecksumOK bool
}

// Ints converts every field to an int. Unparseable fields become fallback.
func (l HeaderLine) Ints(fallback int) []int {
	out := make([]int, len(l.Fields))
	for i, f := range l.Fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			v = fallback
		}
		out[i] = v
	}
	return out
}

// ScanHeaderLine reads the header line starting at pos and returns it along
// with the offset of the following byte. A checksum mismatch is reported via
// ChecksumOK only; structural problems and unknown line types are errors.
func ScanHeaderLine(data []byte, pos int) (HeaderLine, int, error) {
	line := HeaderLine{Offset: pos}
	if pos < 0 || pos >= len(data) {
		return line, pos, headerError(pos, fmt.Errorf("%w: no data", ErrHeaderLineMalformed))
	}
	if data[pos] != '$' {
		return line, pos, headerError(pos, fmt.Errorf("%w: expected '$', found 0x%02X", ErrHeaderLineMalformed, data[pos]))
	}
	pos++
	if pos >= len(data) {
		return line, pos, headerError(pos, fmt.Errorf("%w: missing line type", ErrHeaderLineMalformed))
	}
	line.Type = LineType(data[pos])
	cs := data[pos]
	pos++

	var (
		token    strings.Builder
		skipping bool
		closed   bool
	)
	flush := func() {
		if token.Len() > 0 {
			line.Fields = append(line.Fields, token.String())
		}
		token.Reset()
		skipping = false
	}
	for pos < len(data) {
		c := data[pos]
		pos++
		if c == '*' {
			flush()
			closed = true
			break
		}
		cs ^= c
		if c == ',' {
			flush()
			continue
		}
		r := rune(c)
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || c == '-' || c == '_':
			if !skipping {
				token.WriteRune(r)
			}
		case c < 0x80 || unicode.IsSpace(r):
			if token.Len() > 0 {
				skipping = true
			}
		}
	}
	if !closed {
		return line, pos, headerError(line.Offset, fmt.Errorf("%w: %s line has no checksum delimiter", ErrHeaderLineMalformed, line.Type))
	}
	if pos+4 > len(data) {
		return line, pos, headerError(line.Offset, fmt.Errorf("%w: %s line truncated after '*'", ErrHeaderLineMalformed, line.Type))
	}
	line.Computed = cs
	if v, err := strconv.ParseUint(string(data[pos:pos+2]), 16, 8); err == nil {
		line.Stored = uint8(v)
		line.ChecksumOK = line.Stored == line.Computed
	}
	pos += 2
	if data[pos] != '\r' || data[pos+1] != '\n' {
		return line, pos, headerError(line.Offset, fmt.Errorf("%w: %s line not terminated by CRLF", ErrHeaderLineMalformed, line.Type))
	}
	pos += 2
	if !line.Type.Valid() {
		return line, pos, headerError(line.Offset, fmt.Errorf("%w: %q", ErrInvalidLineType, byte(line.Type)))
	}
	return line, pos, nil
}
