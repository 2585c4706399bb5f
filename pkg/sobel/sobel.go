package sobel

import (
	"math"

	"go-sobel/pkg/common"
)

// Apply computes the gradient magnitude of every pixel of a width x height
// buffer. Pixels on the border of the buffer are set to 0 and the stencil is
// never evaluated there. When in is a halo-padded band, its first and last
// rows are either halo rows (discarded later) or the first and last rows of
// the whole image, so only the true image border ends up zeroed.
func Apply(in []byte, width, height int, k common.Kernel) []byte {
	out := make([]byte, width*height)

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			gx, gy := 0, 0
			for j := -1; j <= 1; j++ {
				row := (y + j) * width
				for i := -1; i <= 1; i++ {
					val := int(in[row+x+i])
					gx += val * k.X[j+1][i+1]
					gy += val * k.Y[j+1][i+1]
				}
			}
			out[y*width+x] = magnitude(gx, gy)
		}
	}

	return out
}

func magnitude(gx, gy int) byte {
	mag := int(math.Round(math.Sqrt(float64(gx*gx + gy*gy))))
	if mag > 255 {
		mag = 255
	}
	if mag < 0 {
		mag = 0
	}
	return byte(mag)
}

// ApplyImage runs the operator over a whole image on the calling goroutine.
func ApplyImage(img common.Image, k common.Kernel) common.Image {
	return common.Image{
		Width:  img.Width,
		Height: img.Height,
		Pix:    Apply(img.Pix, img.Width, img.Height, k),
	}
}

// StripHalo removes top rows from the start and bottom rows from the end of a
// processed band.
func StripHalo(band []byte, width, top, bottom int) []byte {
	rows := len(band)/max(width, 1) - top - bottom
	if width == 0 || rows <= 0 {
		return []byte{}
	}

	result := make([]byte, rows*width)
	copy(result, band[top*width:(top+rows)*width])
	return result
}
