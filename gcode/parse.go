package gcode

import (
	"bytes"
	"io"
)

// Parse splits data into program lines.
func Parse(data string) ([]Line, error) {
	p := NewParser(bytes.NewBufferString(data))
	var lines []Line
	for {
		ln, err := p.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, ln)
	}
	return lines, nil
}

// ParseBlocks parses data and returns only the non-empty blocks.
func ParseBlocks(data string) ([]Block, error) {
	lines, err := Parse(data)
	if err != nil {
		return nil, err
	}
	b := make([]Block, 0, len(lines))
	for _, ln := range lines {
		if ln.Empty() {
			continue
		}
		b = append(b, ln.Block)
	}
	return b, nil
}

func MustParse(data string) []Block {
	b, err := ParseBlocks(data)
	if err != nil {
		panic(err)
	}
	return b
}
