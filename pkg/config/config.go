package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	TransportRedis = "redis"
	TransportLocal = "local"
)

// Config is shared by every process of the group; only Rank differs.
type Config struct {
	Transport   string      `yaml:"transport"`
	RunID       string      `yaml:"run_id"`
	Rank        int         `yaml:"rank"`
	Size        int         `yaml:"size"`
	Procs       int         `yaml:"procs"` // run all ranks in this process, coordinator included
	Compress    bool        `yaml:"compress"`
	Output      string      `yaml:"output"`
	JPEGQuality int         `yaml:"jpeg_quality"`
	ResultsDir  string      `yaml:"results_dir"`
	ChunkDir    string      `yaml:"chunk_dir"`
	LogLevel    string      `yaml:"log_level"`
	Redis       RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
	KeyTTL       time.Duration `yaml:"key_ttl"`
}

func Default() *Config {
	return &Config{
		Transport:   TransportRedis,
		RunID:       "default",
		Output:      "output_sobel.jpg",
		JPEGQuality: 90,
		ResultsDir:  "logs",
		LogLevel:    "info",
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			KeyPrefix:    "sobel",
			BlockTimeout: 5 * time.Second,
			KeyTTL:       24 * time.Hour,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Identity env vars, in order of preference. The first pair is ours, the
// others are what common MPI launchers export.
var identityEnv = [][2]string{
	{"SOBEL_RANK", "SOBEL_SIZE"},
	{"OMPI_COMM_WORLD_RANK", "OMPI_COMM_WORLD_SIZE"},
	{"PMI_RANK", "PMI_SIZE"},
}

// ApplyEnv fills Rank and Size from the launcher environment and lets
// SOBEL_REDIS_ADDR and SOBEL_RUN_ID override the file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, pair := range identityEnv {
		rankStr, okRank := lookup(pair[0])
		sizeStr, okSize := lookup(pair[1])
		if !okRank || !okSize {
			continue
		}
		rank, err := strconv.Atoi(strings.TrimSpace(rankStr))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, pair[0], rankStr)
		}
		size, err := strconv.Atoi(strings.TrimSpace(sizeStr))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, pair[1], sizeStr)
		}
		c.Rank, c.Size = rank, size
		break
	}

	if v, ok := lookup("SOBEL_REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup("SOBEL_RUN_ID"); ok && v != "" {
		c.RunID = v
	}
	return nil
}

// InProcess reports whether every rank runs inside this process.
func (c *Config) InProcess() bool {
	return c.Transport == TransportLocal || c.Procs > 0
}

// GroupSize is the number of processes taking part in the run.
func (c *Config) GroupSize() int {
	if c.InProcess() {
		return c.Procs
	}
	return c.Size
}

func (c *Config) Validate() error {
	switch c.Transport {
	case TransportRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr is required", ErrInvalidConfig)
		}
		if !c.InProcess() && (c.Rank < 0 || c.Rank >= c.Size) {
			return fmt.Errorf("%w: rank %d outside group of %d", ErrInvalidConfig, c.Rank, c.Size)
		}
	case TransportLocal:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}

	if n := c.GroupSize(); n < 2 {
		return fmt.Errorf("%w: need at least 2 processes (1 coordinator + workers), got %d", ErrInvalidConfig, n)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg_quality %d outside 1..100", ErrInvalidConfig, c.JPEGQuality)
	}
	// BRPOP timeouts are whole seconds; 0 means the transport default
	if c.Redis.BlockTimeout < 0 || (c.Redis.BlockTimeout > 0 && c.Redis.BlockTimeout < time.Second) {
		return fmt.Errorf("%w: redis.block_timeout %s must be 0 or at least 1s", ErrInvalidConfig, c.Redis.BlockTimeout)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, level)
	}
	return l, nil
}
