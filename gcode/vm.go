package gcode

import (
	"github.com/fluidcnc/autolevel/coord"
)

// VM tracks the modal state of a program (units, distance mode,
// motion group) and the position that results from running it.
type VM struct {
	pos coord.Point
	wco coord.Point

	modal [256]float64

	feed float64
}

// NewVM constructs a new VM with default state.
func NewVM() *VM {
	vm := &VM{}

	// using grbl defaults
	vm.modal[ModalGroupMotion] = 0
	vm.modal[ModalGroupCoordinateSystem] = 54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = 90
	vm.modal[ModalGroupArcDistanceMode] = 91.1
	vm.modal[ModalGroupFeedRateMode] = 94
	vm.modal[ModalGroupUnits] = 21
	vm.modal[ModalGroupCutterCompensationMode] = 40
	vm.modal[ModalGroupToolLength] = 49
	vm.modal[ModalGroupStopping] = 0
	vm.modal[ModalGroupSpindle] = 5
	vm.modal[ModalGroupCoolant] = 9

	return vm
}

func (vm VM) Inches() bool         { return vm.modal[ModalGroupUnits] == 20 }
func (vm VM) RelativeMotion() bool { return vm.modal[ModalGroupDistanceMode] == 91 }

// Motion returns the active motion modal (0 rapid, 1 linear, 2/3 arc).
func (vm VM) Motion() float64 { return vm.modal[ModalGroupMotion] }

// CuttingMotion reports whether the active motion modal removes
// material (anything but a rapid).
func (vm VM) CuttingMotion() bool {
	m := vm.Motion()
	return m == 1 || m == 2 || m == 3
}

func (vm VM) Feed() float64 { return vm.feed }

func (vm VM) WPos() coord.Point {
	return vm.pos.Sub(vm.wco)
}
func (vm VM) MPos() coord.Point {
	return vm.pos
}
func (vm *VM) SetMPos(p coord.Point) {
	vm.pos = p
}
func (vm *VM) SetWCO(p coord.Point) {
	vm.wco = p
}
func (vm VM) WCO() coord.Point {
	return vm.wco
}

func applyBlock(p coord.Point, b Block, mul float64) coord.Point {
	for _, g := range b {
		if !g.IsAxis() {
			continue
		}
		switch g.W {
		case 'X':
			p.X = g.Arg * mul
		case 'Y':
			p.Y = g.Arg * mul
		case 'Z':
			p.Z = g.Arg * mul
		}
	}

	return p
}

// Run applies one block to the VM. Words the VM does not model are
// ignored; position still tracks any axis words present.
func (vm *VM) Run(b Block) error {
	if len(b) == 0 {
		return nil
	}
	err := b.Validate()
	if err != nil {
		return err
	}
	var machineCoords bool
	for _, g := range b {
		mg := g.ModalGroup()
		if mg != ModalGroupNone && mg != ModalGroupNonModal {
			vm.modal[mg] = g.Arg
		}
		if g.W == 'F' {
			vm.feed = g.Arg
		}
		if g == (Word{W: 'G', Arg: 53.0}) {
			machineCoords = true
		}
	}

	args := b.Args()
	if len(args) == 0 {
		return nil
	}

	mul := 1.0
	if vm.Inches() {
		mul = coord.MMPerInch
	}
	// apply motion
	if vm.RelativeMotion() {
		vm.pos = vm.pos.Add(applyBlock(coord.Point{}, args, mul))
	} else if machineCoords {
		vm.pos = applyBlock(vm.pos, args, 1)
	} else {
		vm.pos = applyBlock(vm.WPos(), args, mul).Add(vm.wco)
	}

	return nil
}
