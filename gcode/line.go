package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Line is one program line with its original text preserved.
// Block is nil for blank and comment-only lines.
type Line struct {
	Raw   string
	Block Block
}

// Empty reports whether the line carries no words (blank or comment).
func (l Line) Empty() bool { return len(l.Block) == 0 }

var (
	rxWords   = regexp.MustCompile(`^([A-Z][0-9.\-]+)+$`)
	rxSplit   = regexp.MustCompile(`[A-Z][0-9.\-]+`)
	rxComment = regexp.MustCompile(`\([^)]*\)`)
)

// stripComments removes `;` line comments and `(...)` inline comments.
func stripComments(s string) string {
	s = strings.SplitN(s, ";", 2)[0]
	return rxComment.ReplaceAllString(s, "")
}

// ParseLine parses a single program line, keeping its raw text.
func ParseLine(raw string) (Line, error) {
	s := stripComments(raw)
	s = strings.Replace(s, " ", "", -1)
	s = strings.Replace(s, "\t", "", -1)
	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)

	ln := Line{Raw: strings.TrimRight(raw, "\r\n")}
	if s == "" {
		return ln, nil
	}

	if !rxWords.MatchString(s) {
		return ln, errors.New("invalid or unhandled line: " + s)
	}

	codes := rxSplit.FindAllString(s, -1)
	ln.Block = make(Block, len(codes))
	for i, c := range codes {
		_, err := fmt.Sscanf(c, "%c%f", &ln.Block[i].W, &ln.Block[i].Arg)
		if err != nil {
			return ln, err
		}
	}

	return ln, nil
}

type Parser struct{ br *bufio.Reader }

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

// Read returns the next line of the program, blank and comment
// lines included.
func (p *Parser) Read() (Line, error) {
	s, err := p.br.ReadString('\n')
	if err == io.EOF && s != "" {
		err = nil
	}
	if err != nil {
		return Line{}, err
	}

	return ParseLine(s)
}
