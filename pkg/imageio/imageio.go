package imageio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go-sobel/pkg/common"
)

const DefaultQuality = 90

// LoadGray decodes a PNG, JPEG or raw file into an 8-bit grayscale image.
// Raw files hold a little-endian int32 width, int32 height, then the pixels.
func LoadGray(path string) (common.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return common.Image{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	if isRaw(path) {
		info, err := file.Stat()
		if err != nil {
			return common.Image{}, fmt.Errorf("failed to stat image: %w", err)
		}
		img, err := readRaw(bufio.NewReader(file), min(MaxRawPixels, info.Size()-rawHeaderSize))
		if err != nil {
			return common.Image{}, fmt.Errorf("%s: %w", path, err)
		}
		return img, nil
	}

	decoded, _, err := image.Decode(file)
	if err != nil {
		return common.Image{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return ToGray(decoded), nil
}

// ToGray converts any image to luma, row-major from the top-left corner.
func ToGray(src image.Image) common.Image {
	bounds := src.Bounds()
	img := common.NewImage(bounds.Dx(), bounds.Dy())

	if gray, ok := src.(*image.Gray); ok {
		for y := 0; y < img.Height; y++ {
			start := gray.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(img.Row(y), gray.Pix[start:start+img.Width])
		}
		return img
	}

	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			g := color.GrayModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			img.Pix[y*img.Width+x] = g.Y
		}
	}
	return img
}

// SaveGray encodes img by the extension of path: .png, .raw, otherwise JPEG.
func SaveGray(path string, img common.Image, quality int) error {
	if err := img.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	switch {
	case isRaw(path):
		w := bufio.NewWriter(file)
		if err := WriteRaw(w, img); err != nil {
			return err
		}
		err = w.Flush()
	case strings.EqualFold(filepath.Ext(path), ".png"):
		err = png.Encode(file, toStdGray(img))
	default:
		if quality < 1 || quality > 100 {
			quality = DefaultQuality
		}
		err = jpeg.Encode(file, toStdGray(img), &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}

func toStdGray(img common.Image) *image.Gray {
	return &image.Gray{
		Pix:    img.Pix,
		Stride: img.Width,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}

func isRaw(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".raw")
}

// MaxRawPixels caps the pixel count a raw header may declare.
const MaxRawPixels = 1 << 28

const rawHeaderSize = 8

// ReadRaw decodes a raw image. A header declaring more than MaxRawPixels
// pixels is rejected before anything is allocated.
func ReadRaw(r io.Reader) (common.Image, error) {
	return readRaw(r, MaxRawPixels)
}

func readRaw(r io.Reader, limit int64) (common.Image, error) {
	var dims [2]int32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return common.Image{}, fmt.Errorf("failed to read raw header: %w", err)
	}
	if dims[0] < 0 || dims[1] < 0 {
		return common.Image{}, fmt.Errorf("%w: raw header %dx%d", common.ErrInvalidImage, dims[0], dims[1])
	}
	if n := int64(dims[0]) * int64(dims[1]); n > limit {
		return common.Image{}, fmt.Errorf("%w: raw header %dx%d declares %d pixels, at most %d available",
			common.ErrInvalidImage, dims[0], dims[1], n, max(limit, 0))
	}

	img := common.NewImage(int(dims[0]), int(dims[1]))
	if _, err := io.ReadFull(r, img.Pix); err != nil {
		return common.Image{}, fmt.Errorf("failed to read raw pixels: %w", err)
	}
	return img, nil
}

func WriteRaw(w io.Writer, img common.Image) error {
	dims := [2]int32{int32(img.Width), int32(img.Height)}
	if err := binary.Write(w, binary.LittleEndian, dims); err != nil {
		return fmt.Errorf("failed to write raw header: %w", err)
	}
	if _, err := w.Write(img.Pix); err != nil {
		return fmt.Errorf("failed to write raw pixels: %w", err)
	}
	return nil
}
