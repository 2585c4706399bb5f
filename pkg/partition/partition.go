package partition

import (
	"errors"
	"fmt"

	"go-sobel/pkg/common"
)

var ErrInvalid = errors.New("invalid partition request")

// Rows splits height rows across workers 1..workers. Every worker gets
// height/workers rows and the first height%workers workers get one more, so
// the assignment depends only on its inputs. The send range of each partition
// is widened by radius rows on every side that does not touch the image edge.
func Rows(height, workers, radius int) ([]common.Partition, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: need at least one worker, got %d", ErrInvalid, workers)
	}
	if height < 0 || radius < 0 {
		return nil, fmt.Errorf("%w: height=%d radius=%d", ErrInvalid, height, radius)
	}

	base := height / workers
	remainder := height % workers

	parts := make([]common.Partition, workers)
	current := 0
	for w := 1; w <= workers; w++ {
		rows := base
		if w <= remainder {
			rows++
		}

		p := common.Partition{
			Worker:       w,
			StartRow:     current,
			RowCount:     rows,
			SendStartRow: current,
		}
		if rows > 0 {
			sendStart := current
			sendEnd := current + rows - 1
			if sendStart > 0 {
				sendStart = max(0, sendStart-radius)
			}
			if sendEnd < height-1 {
				sendEnd = min(height-1, sendEnd+radius)
			}
			p.SendStartRow = sendStart
			p.SendRowCount = sendEnd - sendStart + 1
		}

		parts[w-1] = p
		current += rows
	}

	return parts, nil
}

// Coverage reports an error unless the interiors of parts tile [0,height)
// exactly once, in ascending order.
func Coverage(parts []common.Partition, height int) error {
	next := 0
	for _, p := range parts {
		if p.RowCount < 0 {
			return fmt.Errorf("worker %d: negative row count %d", p.Worker, p.RowCount)
		}
		if p.RowCount == 0 {
			continue
		}
		if p.StartRow != next {
			return fmt.Errorf("worker %d starts at row %d, want %d", p.Worker, p.StartRow, next)
		}
		next += p.RowCount
	}
	if next != height {
		return fmt.Errorf("partitions cover %d rows, want %d", next, height)
	}
	return nil
}
