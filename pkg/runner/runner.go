package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-sobel/pkg/common"
	"go-sobel/pkg/config"
	"go-sobel/pkg/coordinator"
	"go-sobel/pkg/processor"
	"go-sobel/pkg/queue"
)

// Role is what one rank does for a run.
type Role interface {
	Run(ctx context.Context) error
}

// Job names the inputs. Only the coordinator reads them.
type Job struct {
	ImagePath  string
	KernelPath string
}

type Env struct {
	Log *slog.Logger
	// Out receives the coordinator's metrics report.
	Out io.Writer
}

// NewRole returns the coordinator for rank 0 and a worker for every other rank.
func NewRole(comm queue.Comm, cfg *config.Config, job Job, env Env) Role {
	log := env.Log.With("rank", comm.Rank())

	if comm.Rank() == common.COORDINATOR {
		return coordinator.NewCoordinator(comm, coordinator.Config{
			ImagePath:  job.ImagePath,
			KernelPath: job.KernelPath,
			OutputPath: cfg.Output,
			Quality:    cfg.JPEGQuality,
			ResultsDir: cfg.ResultsDir,
		}, coordinator.WithLogger(log), coordinator.WithReportWriter(env.Out))
	}

	opts := []processor.Option{processor.WithLogger(env.Log)}
	if cfg.ChunkDir != "" {
		opts = append(opts, processor.WithChunkDir(cfg.ChunkDir))
	}
	return processor.NewWorker(comm, opts...)
}

// Run validates the configuration and executes this process's part of the
// run. With an in-process group every rank runs here, one goroutine each.
func Run(ctx context.Context, cfg *config.Config, job Job, env Env) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.InProcess() {
		return runGroup(ctx, cfg, job, env)
	}

	env.Log.Info("Runner: starting", "rank", cfg.Rank, "size", cfg.Size, "run_id", cfg.RunID, "redis", cfg.Redis.Addr)

	comm, err := queue.NewRedisComm(ctx, redisOptions(cfg, cfg.RunID), cfg.Rank, cfg.Size, codec(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer comm.Close()

	return runRank(ctx, comm, cfg, job, env)
}

func runRank(ctx context.Context, comm queue.Comm, cfg *config.Config, job Job, env Env) error {
	if err := NewRole(comm, cfg, job, env).Run(ctx); err != nil {
		return err
	}

	if rc, ok := comm.(*queue.RedisComm); ok && comm.Rank() == common.COORDINATOR {
		if err := rc.Cleanup(ctx); err != nil {
			env.Log.Warn("Runner: failed to clean up run keys", "error", err)
		}
	}
	return nil
}

func runGroup(ctx context.Context, cfg *config.Config, job Job, env Env) error {
	comms, err := groupComms(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range comms {
			c.Close()
		}
	}()

	env.Log.Info("Runner: starting in-process group", "transport", cfg.Transport, "procs", len(comms))

	g, gctx := errgroup.WithContext(ctx)
	for _, comm := range comms {
		comm := comm
		g.Go(func() error {
			return runRank(gctx, comm, cfg, job, env)
		})
	}
	return g.Wait()
}

func groupComms(ctx context.Context, cfg *config.Config) ([]queue.Comm, error) {
	comms := make([]queue.Comm, 0, cfg.Procs)

	if cfg.Transport == config.TransportLocal {
		for _, c := range queue.NewLocalGroup(cfg.Procs, codec(cfg)) {
			comms = append(comms, c)
		}
		return comms, nil
	}

	// a fresh run id keeps this group's lists apart from any other run
	opts := redisOptions(cfg, uuid.NewString())
	for rank := 0; rank < cfg.Procs; rank++ {
		c, err := queue.NewRedisComm(ctx, opts, rank, cfg.Procs, codec(cfg))
		if err != nil {
			for _, open := range comms {
				open.Close()
			}
			return nil, fmt.Errorf("failed to connect rank %d to Redis: %w", rank, err)
		}
		comms = append(comms, c)
	}
	return comms, nil
}

func redisOptions(cfg *config.Config, runID string) queue.RedisOptions {
	return queue.RedisOptions{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		RunID:        runID,
		BlockTimeout: cfg.Redis.BlockTimeout,
		KeyTTL:       cfg.Redis.KeyTTL,
	}
}

func codec(cfg *config.Config) queue.Codec {
	return queue.Codec{Compress: cfg.Compress}
}
