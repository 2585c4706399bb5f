package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-sobel/pkg/config"
	"go-sobel/pkg/runner"
)

type options struct {
	configPath string
	transport  string
	redisAddr  string
	rank       int
	size       int
	procs      int
	runID      string
	output     string
	compress   bool
	chunkDir   string
	resultsDir string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sobel",
		Short:         "Distributed Sobel edge detection over row bands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run <image-path> <kernel-path>",
		Short: "Run this process's rank; rank 0 coordinates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}

			level, err := config.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			job := runner.Job{ImagePath: args[0], KernelPath: args[1]}
			return runner.Run(ctx, cfg, job, runner.Env{Log: log, Out: os.Stdout})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.transport, "transport", "", "transport: redis or local")
	f.StringVar(&opts.redisAddr, "redis", "", "Redis server address")
	f.IntVar(&opts.rank, "rank", 0, "rank of this process (overrides the launcher environment)")
	f.IntVar(&opts.size, "size", 0, "number of processes in the group")
	f.IntVar(&opts.procs, "procs", 0, "run all ranks in this process")
	f.StringVar(&opts.runID, "run-id", "", "run id shared by the group")
	f.StringVarP(&opts.output, "output", "o", "", "output image path (.jpg, .png or .raw)")
	f.BoolVar(&opts.compress, "compress", false, "zstd-compress pixel payloads")
	f.StringVar(&opts.chunkDir, "chunk-dir", "", "directory for per-worker result chunks")
	f.StringVar(&opts.resultsDir, "results-dir", "", "directory for the results log")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// loadConfig layers the file, the environment and then any flag the user set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if f.Changed("redis") {
		cfg.Redis.Addr = opts.redisAddr
	}
	if f.Changed("rank") {
		cfg.Rank = opts.rank
	}
	if f.Changed("size") {
		cfg.Size = opts.size
	}
	if f.Changed("procs") {
		cfg.Procs = opts.procs
	}
	if f.Changed("run-id") {
		cfg.RunID = opts.runID
	}
	if f.Changed("output") {
		cfg.Output = opts.output
	}
	if f.Changed("compress") {
		cfg.Compress = opts.compress
	}
	if f.Changed("chunk-dir") {
		cfg.ChunkDir = opts.chunkDir
	}
	if f.Changed("results-dir") {
		cfg.ResultsDir = opts.resultsDir
	}
	if f.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}
