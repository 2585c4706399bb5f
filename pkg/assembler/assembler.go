package assembler

import (
	"errors"
	"fmt"

	"go-sobel/pkg/common"
)

var (
	ErrOverlap  = errors.New("rows already placed")
	ErrMismatch = errors.New("result does not fit output")
)

// Assembler places result bands into the output buffer by their own start
// row, so results may be handed to it in any order.
type Assembler struct {
	output       common.Image
	filled       []bool
	rowsReceived int
	unitsPlaced  int
}

func NewAssembler(width, height int) *Assembler {
	return &Assembler{
		output: common.NewImage(width, height),
		filled: make([]bool, height),
	}
}

func (a *Assembler) Place(res common.ResultUnit) error {
	if res.InteriorRowCount == 0 {
		a.unitsPlaced++
		return nil
	}
	if res.Width != a.output.Width {
		return fmt.Errorf("%w: unit %s width %d, image width %d", ErrMismatch, res.UnitID, res.Width, a.output.Width)
	}
	if res.InteriorStartRow < 0 || res.InteriorStartRow+res.InteriorRowCount > a.output.Height {
		return fmt.Errorf("%w: unit %s rows [%d,%d) outside [0,%d)", ErrMismatch, res.UnitID,
			res.InteriorStartRow, res.InteriorStartRow+res.InteriorRowCount, a.output.Height)
	}
	if len(res.Pix) != res.PayloadSize() {
		return fmt.Errorf("%w: unit %s carries %d bytes, want %d", ErrMismatch, res.UnitID, len(res.Pix), res.PayloadSize())
	}

	for y := res.InteriorStartRow; y < res.InteriorStartRow+res.InteriorRowCount; y++ {
		if a.filled[y] {
			return fmt.Errorf("%w: row %d from unit %s", ErrOverlap, y, res.UnitID)
		}
	}

	copy(a.output.Pix[res.InteriorStartRow*a.output.Width:], res.Pix)
	for y := res.InteriorStartRow; y < res.InteriorStartRow+res.InteriorRowCount; y++ {
		a.filled[y] = true
	}
	a.rowsReceived += res.InteriorRowCount
	a.unitsPlaced++
	return nil
}

// Complete reports whether every output row has been placed.
func (a *Assembler) Complete() bool {
	return a.rowsReceived == a.output.Height
}

func (a *Assembler) Missing() []int {
	var rows []int
	for y, ok := range a.filled {
		if !ok {
			rows = append(rows, y)
		}
	}
	return rows
}

func (a *Assembler) UnitsPlaced() int {
	return a.unitsPlaced
}

func (a *Assembler) Image() common.Image {
	return a.output
}
