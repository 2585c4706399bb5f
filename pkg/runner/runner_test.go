package runner

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sobel/pkg/common"
	"go-sobel/pkg/config"
	"go-sobel/pkg/coordinator"
	"go-sobel/pkg/imageio"
	"go-sobel/pkg/processor"
	"go-sobel/pkg/queue"
	"go-sobel/pkg/sobel"
)

func quietEnv(out io.Writer) Env {
	return Env{Log: slog.New(slog.NewTextHandler(io.Discard, nil)), Out: out}
}

func inputs(t *testing.T) (Job, common.Image, string) {
	t.Helper()
	dir := t.TempDir()

	img := common.NewImage(24, 17)
	rand.New(rand.NewSource(17)).Read(img.Pix)

	job := Job{
		ImagePath:  filepath.Join(dir, "in.png"),
		KernelPath: filepath.Join(dir, "sobel.cfg"),
	}
	require.NoError(t, imageio.SaveGray(job.ImagePath, img, 0))
	require.NoError(t, os.WriteFile(job.KernelPath, []byte("-1 0 1 -2 0 2 -1 0 1 -1 -2 -1 0 0 0 1 2 1"), 0644))
	return job, img, dir
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Output = filepath.Join(dir, "out.png")
	cfg.ResultsDir = filepath.Join(dir, "logs")
	return cfg
}

func assertOutput(t *testing.T, cfg *config.Config, img common.Image) {
	t.Helper()
	got, err := imageio.LoadGray(cfg.Output)
	require.NoError(t, err)
	assert.Equal(t, sobel.ApplyImage(img, common.SobelKernel()).Pix, got.Pix)
}

func TestNewRole(t *testing.T) {
	group := queue.NewLocalGroup(2, queue.Codec{})
	cfg := config.Default()
	env := quietEnv(io.Discard)

	assert.IsType(t, &coordinator.Coordinator{}, NewRole(group[0], cfg, Job{}, env))
	assert.IsType(t, &processor.Worker{}, NewRole(group[1], cfg, Job{}, env))
}

func TestRunLocalGroup(t *testing.T) {
	job, img, dir := inputs(t)
	cfg := testConfig(dir)
	cfg.Transport = config.TransportLocal
	cfg.Procs = 5
	cfg.Compress = true
	cfg.ChunkDir = filepath.Join(dir, "chunks")

	var report bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, Run(ctx, cfg, job, quietEnv(&report)))

	assertOutput(t, cfg, img)
	assert.Contains(t, report.String(), "Worker 4:")

	chunks, err := os.ReadDir(cfg.ChunkDir)
	require.NoError(t, err)
	assert.Len(t, chunks, 4)
}

func TestRunRejectsSingleProcess(t *testing.T) {
	job, _, dir := inputs(t)
	cfg := testConfig(dir)
	cfg.Transport = config.TransportLocal
	cfg.Procs = 1

	err := Run(context.Background(), cfg, job, quietEnv(io.Discard))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, statErr := os.Stat(cfg.Output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunLocalGroupBadKernel(t *testing.T) {
	job, _, dir := inputs(t)
	require.NoError(t, os.WriteFile(job.KernelPath, []byte("1 2"), 0644))
	cfg := testConfig(dir)
	cfg.Transport = config.TransportLocal
	cfg.Procs = 3

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Run(ctx, cfg, job, quietEnv(io.Discard))
	assert.Error(t, err)

	_, statErr := os.Stat(cfg.Output)
	assert.True(t, os.IsNotExist(statErr), "no output on failure")
}

func TestRunInProcessRedisGroup(t *testing.T) {
	mr := miniredis.RunT(t)
	job, img, dir := inputs(t)
	cfg := testConfig(dir)
	cfg.Procs = 3
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.BlockTimeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, Run(ctx, cfg, job, quietEnv(io.Discard)))

	assertOutput(t, cfg, img)
	assert.Empty(t, mr.Keys(), "coordinator cleans up its lists")
}

// Each rank runs through Run as its own process would, sharing only Redis.
func TestRunDistributedOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	job, img, dir := inputs(t)
	const size = 4

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, size)
	for rank := 0; rank < size; rank++ {
		rank := rank
		cfg := testConfig(dir)
		cfg.Redis.Addr = mr.Addr()
		cfg.Redis.BlockTimeout = time.Second
		cfg.RunID = "distributed-test"
		cfg.Rank = rank
		cfg.Size = size

		wg.Add(1)
		go func() {
			defer wg.Done()
			j := job
			if rank != common.COORDINATOR {
				j = Job{}
			}
			errs[rank] = Run(ctx, cfg, j, quietEnv(io.Discard))
		}()
	}
	wg.Wait()

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	assertOutput(t, testConfig(dir), img)
}

// A failed run leaves its abort frames behind. The next run with the same id
// must not deliver them to its workers.
func TestRunAfterFailedRunOnSameID(t *testing.T) {
	mr := miniredis.RunT(t)
	job, img, dir := inputs(t)

	rankConfig := func(rank int) *config.Config {
		cfg := testConfig(dir)
		cfg.Redis.Addr = mr.Addr()
		cfg.Redis.BlockTimeout = time.Second
		cfg.RunID = "reused"
		cfg.Rank = rank
		cfg.Size = 2
		return cfg
	}
	toWorker := "sobel:reused:0->1"

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// first run: no worker ever starts and the image is missing
	broken := Job{ImagePath: filepath.Join(dir, "missing.png"), KernelPath: job.KernelPath}
	require.Error(t, Run(ctx, rankConfig(0), broken, quietEnv(io.Discard)))
	stale, err := mr.List(toWorker)
	require.NoError(t, err)
	require.Len(t, stale, 1, "abort left for rank 1")

	coordErr := make(chan error, 1)
	go func() { coordErr <- Run(ctx, rankConfig(0), job, quietEnv(io.Discard)) }()

	// kernel, meta and data of the new run replace the stale abort
	require.Eventually(t, func() bool {
		frames, _ := mr.List(toWorker)
		return len(frames) == 3
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, Run(ctx, rankConfig(1), Job{}, quietEnv(io.Discard)))
	require.NoError(t, <-coordErr)
	assertOutput(t, rankConfig(0), img)
}
