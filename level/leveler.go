// Package level rewrites the cutting moves of a program so the tool
// follows the measured surface, preserving the program's modal
// semantics and original line text.
package level

import (
	"bufio"
	"io"
	"math"
	"regexp"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/gcode"
	"github.com/fluidcnc/autolevel/heightmap"
)

// Options configure a Leveler.
type Options struct {
	Scheme heightmap.Scheme
	// MaxSegment subdivides moves whose planar length exceeds it, so
	// long moves follow surface curvature instead of a single
	// corrected endpoint. Zero disables subdivision.
	MaxSegment float64
}

// Leveler applies interpolated height correction to a program.
// Create one per program: it tracks modal state across lines.
type Leveler struct {
	off heightmap.Offsetter
	vm  *gcode.VM

	maxSegment float64
}

// New fails fast with heightmap.ErrNoMap when no scan has produced a
// map yet.
func New(m *heightmap.Map, opt Options) (*Leveler, error) {
	if m == nil {
		return nil, heightmap.ErrNoMap
	}
	return NewOffsetter(m.Offsetter(opt.Scheme), opt), nil
}

// NewOffsetter builds a Leveler over any correction source, such as a
// triangulated mesh of raw probe points.
func NewOffsetter(off heightmap.Offsetter, opt Options) *Leveler {
	return &Leveler{
		off:        off,
		vm:         gcode.NewVM(),
		maxSegment: opt.MaxSegment,
	}
}

// Apply rewrites a whole program.
func (l *Leveler) Apply(r io.Reader, w io.Writer) error {
	return l.ApplyLines(gcode.NewParser(r), w)
}

// ApplyLines rewrites a program supplied as parsed lines.
func (l *Leveler) ApplyLines(src gcode.Reader, w io.Writer) error {
	bw := bufio.NewWriter(w)
	for {
		ln, err := src.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		out, err := l.Line(ln)
		if err != nil {
			return err
		}
		for _, s := range out {
			if _, err := bw.WriteString(s + "\n"); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

var rxZWord = regexp.MustCompile(`[Zz]\s*[-+]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)`)

// replaceZ rewrites only the first Z word of the line, leaving every
// other byte of the original text intact.
func replaceZ(raw string, z float64) string {
	loc := rxZWord.FindStringIndex(raw)
	if loc == nil {
		return raw
	}
	return raw[:loc[0]] + "Z" + gcode.FormatFloat(z, 4) + raw[loc[1]:]
}

// Line processes one program line. Lines that are not cutting moves
// pass through with their text untouched; tracked position still
// updates from any coordinate words present.
func (l *Leveler) Line(ln gcode.Line) ([]string, error) {
	if ln.Empty() {
		return []string{ln.Raw}, nil
	}

	oldPos := l.vm.WPos()
	if err := l.vm.Run(ln.Block); err != nil {
		return nil, err
	}
	newPos := l.vm.WPos() // millimeters regardless of program units

	// compensation applies only to a linear/arc move carrying a Z word
	if !l.vm.CuttingMotion() || !ln.Block.Has('Z') {
		return []string{ln.Raw}, nil
	}

	if l.maxSegment > 0 && oldPos.DistanceXY(newPos.X, newPos.Y) > l.maxSegment {
		return l.subdivide(ln.Block, oldPos, newPos), nil
	}

	ok, corr := l.off.OffsetZ(newPos.X, newPos.Y)
	if !ok {
		return []string{ln.Raw}, nil
	}
	if l.vm.RelativeMotion() {
		okOld, corrOld := l.off.OffsetZ(oldPos.X, oldPos.Y)
		if !okOld {
			return []string{ln.Raw}, nil
		}
		corr -= corrOld
	}
	if l.vm.Inches() {
		corr /= coord.MMPerInch
	}

	_, z := ln.Block.Arg('Z')
	return []string{replaceZ(ln.Raw, z+corr)}, nil
}

// SplitMove returns the intermediate points of a move whose planar
// length exceeds maxSegment, evenly spaced along the straight-line
// path and ending at the endpoint. A short move yields only its
// endpoint.
func SplitMove(start, end coord.Point, maxSegment float64) []coord.Point {
	dist := start.DistanceXY(end.X, end.Y)
	if maxSegment <= 0 || dist <= maxSegment {
		return []coord.Point{end}
	}
	n := int(math.Ceil(dist / maxSegment))
	return start.Split(end, n, false)
}

func (l *Leveler) corrAt(p coord.Point) float64 {
	ok, c := l.off.OffsetZ(p.X, p.Y)
	if !ok {
		return 0
	}
	return c
}

// subdivide replaces one long cutting move with independently
// corrected segments. Generated segments are reformatted; the original
// line text cannot survive splitting.
func (l *Leveler) subdivide(b gcode.Block, oldPos, newPos coord.Point) []string {
	pts := SplitMove(oldPos, newPos, l.maxSegment)

	div := 1.0
	if l.vm.Inches() {
		div = coord.MMPerInch
	}

	out := make([]string, 0, len(pts))
	if l.vm.RelativeMotion() {
		step := newPos.Sub(oldPos).Div(float64(len(pts)))
		prev := l.corrAt(oldPos)
		for _, p := range pts {
			c := l.corrAt(p)
			seg := b.Clone()
			seg.SetArg('X', step.X/div)
			seg.SetArg('Y', step.Y/div)
			seg.SetArg('Z', (step.Z+c-prev)/div)
			prev = c
			out = append(out, seg.String())
		}
		return out
	}

	for _, p := range pts {
		c := l.corrAt(p)
		seg := b.Clone()
		seg.SetArg('X', p.X/div)
		seg.SetArg('Y', p.Y/div)
		seg.SetArg('Z', (p.Z+c)/div)
		out = append(out, seg.String())
	}
	return out
}
