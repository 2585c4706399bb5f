package processor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go-sobel/pkg/common"
	"go-sobel/pkg/imageio"
	"go-sobel/pkg/queue"
	"go-sobel/pkg/sobel"
)

// Worker processes exactly one unit per run: it waits for the kernel, then
// for its band, and replies with the interior rows and its compute time.
type Worker struct {
	comm     queue.Comm
	chunkDir string
	log      *slog.Logger
}

type Option func(*Worker)

// WithChunkDir makes the worker save its interior result as
// chunk_rank<N>.png under dir before replying.
func WithChunkDir(dir string) Option {
	return func(w *Worker) { w.chunkDir = dir }
}

func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

func NewWorker(comm queue.Comm, opts ...Option) *Worker {
	w := &Worker{comm: comm, log: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("rank", comm.Rank())
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	kernel, err := queue.RecvKernel(ctx, w.comm)
	if err != nil {
		return fmt.Errorf("worker %d: failed to receive kernel: %w", w.comm.Rank(), err)
	}
	w.log.Debug("Worker: kernel received")

	unit, err := queue.RecvWork(ctx, w.comm)
	if err != nil {
		return fmt.Errorf("worker %d: failed to receive work: %w", w.comm.Rank(), err)
	}
	w.log.Info("Worker: unit received",
		"unit", unit.UnitID,
		"interior_start", unit.InteriorStartRow,
		"interior_rows", unit.InteriorRowCount,
		"send_rows", unit.SendRowCount)

	result, elapsed := w.Process(unit, kernel)

	if w.chunkDir != "" && result.InteriorRowCount > 0 {
		w.saveChunk(result)
	}

	if err := queue.SendResult(ctx, w.comm, result, elapsed); err != nil {
		return fmt.Errorf("worker %d: failed to send result: %w", w.comm.Rank(), err)
	}

	w.log.Info("Worker: result sent",
		"unit", unit.UnitID,
		"rows", result.InteriorRowCount,
		"compute", elapsed)
	return nil
}

// Process applies the operator to the padded band and strips its halo. The
// returned duration covers only this step. A unit without rows yields an
// empty result and zero time.
func (w *Worker) Process(unit common.WorkUnit, kernel common.Kernel) (common.ResultUnit, time.Duration) {
	result := common.ResultUnit{
		ResultMeta: common.ResultMeta{
			UnitID:           unit.UnitID,
			Worker:           w.comm.Rank(),
			Width:            unit.Width,
			InteriorRowCount: unit.InteriorRowCount,
			InteriorStartRow: unit.InteriorStartRow,
		},
		Pix: []byte{},
	}
	if unit.SendRowCount == 0 {
		result.InteriorRowCount = 0
		return result, 0
	}

	startTime := time.Now()

	band := sobel.Apply(unit.Pix, unit.Width, unit.SendRowCount, kernel)
	result.Pix = sobel.StripHalo(band, unit.Width, unit.HaloTop(), unit.HaloBottom())

	return result, time.Since(startTime)
}

func (w *Worker) saveChunk(result common.ResultUnit) {
	path := filepath.Join(w.chunkDir, fmt.Sprintf("chunk_rank%d.png", w.comm.Rank()))
	img := common.Image{Width: result.Width, Height: result.InteriorRowCount, Pix: result.Pix}

	if err := imageio.SaveGray(path, img, imageio.DefaultQuality); err != nil {
		w.log.Warn("Worker: failed to save chunk", "path", path, "error", err)
		return
	}
	w.log.Info("Worker: chunk saved", "path", path)
}
