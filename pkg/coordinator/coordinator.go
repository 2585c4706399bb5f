package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"go-sobel/pkg/assembler"
	"go-sobel/pkg/common"
	"go-sobel/pkg/imageio"
	"go-sobel/pkg/partition"
	"go-sobel/pkg/queue"
	"go-sobel/pkg/sobel"
	"go-sobel/pkg/stats"
)

var ErrNoWorkers = errors.New("at least one worker is required")

type Config struct {
	ImagePath  string
	KernelPath string
	// OutputPath is where the reassembled image is written; empty skips it.
	OutputPath string
	Quality    int
	// ResultsDir receives a copy of the metrics report; empty skips it.
	ResultsDir string
}

type Coordinator struct {
	comm queue.Comm
	cfg  Config
	out  io.Writer
	log  *slog.Logger
}

type Option func(*Coordinator)

// WithReportWriter sets where the metrics block is printed (stdout by default).
func WithReportWriter(w io.Writer) Option {
	return func(c *Coordinator) { c.out = w }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func NewCoordinator(comm queue.Comm, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{comm: comm, cfg: cfg, out: os.Stdout, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of one distributed run.
type Result struct {
	Output     common.Image
	Sequential common.Image
	Metrics    stats.Metrics
}

type dispatched struct {
	part   common.Partition
	unitID string
}

// Run processes the image, writes the output and emits the metrics. Any
// failure after the group is formed aborts every worker.
func (c *Coordinator) Run(ctx context.Context) error {
	res, err := c.Process(ctx)
	if err != nil {
		return err
	}

	if c.cfg.OutputPath != "" {
		if err := imageio.SaveGray(c.cfg.OutputPath, res.Output, c.cfg.Quality); err != nil {
			return fmt.Errorf("failed to save output: %w", err)
		}
		c.log.Info("Coordinator: output saved", "path", c.cfg.OutputPath)
	}

	res.Metrics.Report(c.out)

	if c.cfg.ResultsDir != "" {
		path, err := stats.WriteResults(c.cfg.ResultsDir, "sobel_", res.Metrics, c.cfg.ImagePath, c.cfg.OutputPath)
		if err != nil {
			c.log.Warn("Coordinator: failed to write results file", "error", err)
		} else {
			c.log.Info("Coordinator: results written", "path", path)
		}
	}
	return nil
}

// Process runs every phase up to the metrics, without persisting anything.
func (c *Coordinator) Process(ctx context.Context) (*Result, error) {
	workers := c.comm.Size() - 1
	if workers < 1 {
		return nil, fmt.Errorf("%w: group has %d process(es)", ErrNoWorkers, c.comm.Size())
	}

	res, err := c.process(ctx, workers)
	if err != nil {
		c.abort(ctx, err)
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) process(ctx context.Context, workers int) (*Result, error) {
	if cl, ok := c.comm.(queue.Cleaner); ok {
		if err := cl.Cleanup(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear previous run: %w", err)
		}
	}
	traffic := c.comm.Traffic()

	loadStart := time.Now()
	img, err := imageio.LoadGray(c.cfg.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	c.log.Info("Coordinator: image loaded", "path", c.cfg.ImagePath, "width", img.Width, "height", img.Height)

	kernel, err := sobel.LoadKernel(c.cfg.KernelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load kernel: %w", err)
	}
	loadTime := time.Since(loadStart)

	if err := queue.BroadcastKernel(ctx, c.comm, kernel); err != nil {
		return nil, err
	}
	c.log.Debug("Coordinator: kernel broadcast", "workers", workers)

	parts, err := partition.Rows(img.Height, workers, common.RADIUS)
	if err != nil {
		return nil, err
	}
	if img.Height < workers {
		c.log.Warn("Coordinator: more workers than image rows", "rows", img.Height, "workers", workers)
	}

	dispatchStart := time.Now()
	sent, err := c.dispatch(ctx, img, parts)
	if err != nil {
		return nil, err
	}
	dispatchTime := time.Since(dispatchStart)

	parallelStart := time.Now()
	output, err := c.gather(ctx, img, sent)
	if err != nil {
		return nil, err
	}
	parallelTime := time.Since(parallelStart)
	c.log.Info("Coordinator: distributed processing finished", "elapsed", parallelTime)

	compute := make([]time.Duration, workers)
	for rank := 1; rank <= workers; rank++ {
		elapsed, err := queue.RecvComputeTime(ctx, c.comm, rank)
		if err != nil {
			return nil, fmt.Errorf("failed to receive compute time from rank %d: %w", rank, err)
		}
		compute[rank-1] = elapsed
	}
	moved := c.comm.Traffic().Sub(traffic)

	seqStart := time.Now()
	sequential := sobel.ApplyImage(img, kernel)
	seqTime := time.Since(seqStart)

	m := stats.NewMetrics(img.Width, img.Height, compute, stats.Timings{
		Load:       loadTime,
		Dispatch:   dispatchTime,
		Parallel:   parallelTime,
		Sequential: seqTime,
	})
	m.BytesSent = moved.BytesSent
	m.BytesReceived = moved.BytesReceived
	m.Mismatched = countMismatched(output.Pix, sequential.Pix)
	if m.Mismatched > 0 {
		c.log.Warn("Coordinator: distributed output differs from sequential reference", "pixels", m.Mismatched)
	}

	return &Result{Output: output, Sequential: sequential, Metrics: m}, nil
}

// dispatch sends one unit per worker in ascending rank order. Bands are
// sub-slices of the source image, which is not modified afterwards.
func (c *Coordinator) dispatch(ctx context.Context, img common.Image, parts []common.Partition) (map[int]dispatched, error) {
	sent := make(map[int]dispatched, len(parts))

	for _, p := range parts {
		start := p.SendStartRow * img.Width
		unit := common.WorkUnit{
			WorkMeta: common.WorkMeta{
				UnitID:           uuid.NewString(),
				Width:            img.Width,
				InteriorRowCount: p.RowCount,
				InteriorStartRow: p.StartRow,
				SendRowCount:     p.SendRowCount,
				SendStartRow:     p.SendStartRow,
			},
			Pix: img.Pix[start : start+p.SendRowCount*img.Width],
		}

		if err := queue.SendWork(ctx, c.comm, p.Worker, unit); err != nil {
			return nil, fmt.Errorf("failed to dispatch unit to rank %d: %w", p.Worker, err)
		}
		sent[p.Worker] = dispatched{part: p, unitID: unit.UnitID}

		c.log.Debug("Coordinator: unit dispatched",
			"rank", p.Worker,
			"start_row", p.StartRow,
			"rows", p.RowCount,
			"send_start_row", p.SendStartRow,
			"send_rows", p.SendRowCount)
	}
	return sent, nil
}

// gather takes results in whatever order they arrive and places each by
// its own start row.
func (c *Coordinator) gather(ctx context.Context, img common.Image, sent map[int]dispatched) (common.Image, error) {
	asm := assembler.NewAssembler(img.Width, img.Height)

	pending := make([]int, 0, len(sent))
	for rank := range sent {
		pending = append(pending, rank)
	}
	slices.Sort(pending)

	for len(pending) > 0 {
		src, res, err := queue.RecvResult(ctx, c.comm, pending...)
		if err != nil {
			return common.Image{}, fmt.Errorf("failed to gather result: %w", err)
		}
		if err := checkResult(src, res, sent[src], img.Width); err != nil {
			return common.Image{}, err
		}
		if err := asm.Place(res); err != nil {
			return common.Image{}, fmt.Errorf("%w: %v", queue.ErrProtocol, err)
		}

		pending = slices.DeleteFunc(pending, func(r int) bool { return r == src })
		c.log.Debug("Coordinator: result received", "rank", src, "start_row", res.InteriorStartRow, "rows", res.InteriorRowCount)
	}

	if !asm.Complete() {
		return common.Image{}, fmt.Errorf("%w: rows %v never returned", queue.ErrProtocol, asm.Missing())
	}
	return asm.Image(), nil
}

func checkResult(src int, res common.ResultUnit, want dispatched, width int) error {
	p := want.part
	switch {
	case res.UnitID != want.unitID:
		return fmt.Errorf("%w: rank %d answered unit %q, sent %q", queue.ErrProtocol, src, res.UnitID, want.unitID)
	case res.Worker != src:
		return fmt.Errorf("%w: result from rank %d claims worker %d", queue.ErrProtocol, src, res.Worker)
	case res.InteriorStartRow != p.StartRow || res.InteriorRowCount != p.RowCount:
		return fmt.Errorf("%w: rank %d returned rows [%d,+%d), assigned [%d,+%d)", queue.ErrProtocol, src,
			res.InteriorStartRow, res.InteriorRowCount, p.StartRow, p.RowCount)
	case res.InteriorRowCount > 0 && res.Width != width:
		return fmt.Errorf("%w: rank %d returned width %d, image width %d", queue.ErrProtocol, src, res.Width, width)
	}
	return nil
}

func (c *Coordinator) abort(ctx context.Context, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.comm.Abort(ctx, cause.Error()); err != nil {
		c.log.Error("Coordinator: failed to abort workers", "error", err)
	}
}

func countMismatched(a, b []byte) int {
	if len(a) != len(b) {
		return max(len(a), len(b))
	}
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}
