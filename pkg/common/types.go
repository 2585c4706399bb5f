package common

import (
	"errors"
	"fmt"
)

const (
	// RADIUS is the stencil radius of the 3x3 operator.
	RADIUS = 1
	// COORDINATOR is the rank of the process that owns the image.
	COORDINATOR = 0
)

// ErrInvalidImage reports dimensions that do not match the pixel buffer.
var ErrInvalidImage = errors.New("invalid image")

// Image is a single-channel raster, row-major.
type Image struct {
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
	Pix    []byte `json:"-" msgpack:"-"`
}

func NewImage(width, height int) Image {
	return Image{Width: width, Height: height, Pix: make([]byte, width*height)}
}

// Row returns the pixels of row y without copying.
func (img Image) Row(y int) []byte {
	return img.Pix[y*img.Width : (y+1)*img.Width]
}

func (img Image) Validate() error {
	if img.Width < 0 || img.Height < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrInvalidImage, img.Width, img.Height)
	}
	if len(img.Pix) != img.Width*img.Height {
		return fmt.Errorf("%w: buffer holds %d bytes, want %d", ErrInvalidImage, len(img.Pix), img.Width*img.Height)
	}
	return nil
}

// Kernel holds the horizontal and vertical gradient weights, indexed [row][col].
type Kernel struct {
	X [3][3]int `json:"x" msgpack:"x"`
	Y [3][3]int `json:"y" msgpack:"y"`
}

// SobelKernel returns the standard Sobel pair.
func SobelKernel() Kernel {
	return Kernel{
		X: [3][3]int{
			{-1, 0, 1},
			{-2, 0, 2},
			{-1, 0, 1},
		},
		Y: [3][3]int{
			{-1, -2, -1},
			{0, 0, 0},
			{1, 2, 1},
		},
	}
}

// Partition is the row band owned by one worker plus the halo-extended range
// that is shipped to it.
type Partition struct {
	Worker       int `json:"worker"`
	StartRow     int `json:"start_row"`
	RowCount     int `json:"row_count"`
	SendStartRow int `json:"send_start_row"`
	SendRowCount int `json:"send_row_count"`
}

// HaloTop is the number of rows borrowed from the partition above.
func (p Partition) HaloTop() int {
	return p.StartRow - p.SendStartRow
}

// HaloBottom is the number of rows borrowed from the partition below.
func (p Partition) HaloBottom() int {
	return (p.SendStartRow + p.SendRowCount) - (p.StartRow + p.RowCount)
}

type WorkMeta struct {
	UnitID           string `json:"unit_id" msgpack:"unit_id"`
	Width            int    `json:"width" msgpack:"width"`
	InteriorRowCount int    `json:"interior_row_count" msgpack:"interior_row_count"`
	InteriorStartRow int    `json:"interior_start_row" msgpack:"interior_start_row"`
	SendRowCount     int    `json:"send_row_count" msgpack:"send_row_count"`
	SendStartRow     int    `json:"send_start_row" msgpack:"send_start_row"`
}

// WorkUnit is a padded band sent from the coordinator to one worker.
type WorkUnit struct {
	WorkMeta
	Pix []byte
}

// PayloadSize is the number of pixel bytes that must follow the metadata.
func (m WorkMeta) PayloadSize() int {
	return m.Width * m.SendRowCount
}

func (m WorkMeta) HaloTop() int {
	return m.InteriorStartRow - m.SendStartRow
}

func (m WorkMeta) HaloBottom() int {
	return (m.SendStartRow + m.SendRowCount) - (m.InteriorStartRow + m.InteriorRowCount)
}

// Validate checks the internal consistency of the send range.
func (m WorkMeta) Validate() error {
	if m.Width < 0 || m.InteriorRowCount < 0 || m.SendRowCount < 0 {
		return fmt.Errorf("negative dimensions in unit %s", m.UnitID)
	}
	if m.HaloTop() < 0 || m.HaloBottom() < 0 {
		return fmt.Errorf("send range [%d,+%d) does not contain interior [%d,+%d)",
			m.SendStartRow, m.SendRowCount, m.InteriorStartRow, m.InteriorRowCount)
	}
	if m.SendRowCount > m.InteriorRowCount+2*RADIUS {
		return fmt.Errorf("send range of %d rows exceeds interior %d plus halo", m.SendRowCount, m.InteriorRowCount)
	}
	return nil
}

type ResultMeta struct {
	UnitID           string `json:"unit_id" msgpack:"unit_id"`
	Worker           int    `json:"worker" msgpack:"worker"`
	Width            int    `json:"width" msgpack:"width"`
	InteriorRowCount int    `json:"interior_row_count" msgpack:"interior_row_count"`
	InteriorStartRow int    `json:"interior_start_row" msgpack:"interior_start_row"`
}

// ResultUnit carries the interior rows computed by a worker. Halo rows are
// never part of it.
type ResultUnit struct {
	ResultMeta
	Pix []byte
}

func (m ResultMeta) PayloadSize() int {
	return m.Width * m.InteriorRowCount
}
