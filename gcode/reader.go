package gcode

import "io"

// Reader yields the lines of a program one at a time, returning
// io.EOF when the program ends.
type Reader interface {
	Read() (Line, error)
}

var _ Reader = (*Parser)(nil)

// LinesReader replays an already-parsed program.
type LinesReader struct {
	Lines []Line
	n     int
}

func (r *LinesReader) Read() (Line, error) {
	if r.n == len(r.Lines) {
		return Line{}, io.EOF
	}

	r.n++
	return r.Lines[r.n-1], nil
}
