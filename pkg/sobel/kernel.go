package sobel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"go-sobel/pkg/common"
)

var ErrMalformedKernel = errors.New("malformed kernel file")

// LoadKernel reads a coefficient file: 18 whitespace-separated integers, the
// first nine are the horizontal matrix in row-major order, the next nine the
// vertical one.
func LoadKernel(path string) (common.Kernel, error) {
	file, err := os.Open(path)
	if err != nil {
		return common.Kernel{}, fmt.Errorf("failed to open kernel file: %w", err)
	}
	defer file.Close()

	k, err := ParseKernel(file)
	if err != nil {
		return common.Kernel{}, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

// ParseKernel reads the coefficients from r. Anything after the 18th integer
// is ignored.
func ParseKernel(r io.Reader) (common.Kernel, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)

	var values [18]int
	for n := range values {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return common.Kernel{}, fmt.Errorf("failed to read kernel: %w", err)
			}
			return common.Kernel{}, fmt.Errorf("%w: got %d of 18 coefficients", ErrMalformedKernel, n)
		}
		v, err := strconv.Atoi(scanner.Text())
		if err != nil {
			return common.Kernel{}, fmt.Errorf("%w: coefficient %d: %q is not an integer", ErrMalformedKernel, n+1, scanner.Text())
		}
		values[n] = v
	}

	var k common.Kernel
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			k.X[j][i] = values[j*3+i]
			k.Y[j][i] = values[9+j*3+i]
		}
	}
	return k, nil
}
