package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultBlockTimeout = 5 * time.Second

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	RunID     string
	// BlockTimeout bounds a single BRPOP and is raised to at least 1s.
	// Receives keep polling until their context ends, so it only sets how
	// often cancellation is noticed.
	BlockTimeout time.Duration
	// KeyTTL is refreshed on every push so abandoned runs expire.
	KeyTTL time.Duration
}

// RedisComm carries messages over Redis lists, one list per ordered pair of
// ranks. LPUSH on send and BRPOP on receive give FIFO delivery per pair.
type RedisComm struct {
	client *redis.Client
	rank   int
	size   int
	prefix string
	block  time.Duration
	ttl    time.Duration
	codec  Codec
	stats  counters
}

func NewRedisComm(ctx context.Context, opts RedisOptions, rank, size int, codec Codec) (*RedisComm, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisCommFromClient(client, opts, rank, size, codec), nil
}

// NewRedisCommFromClient wraps an existing client. The communicator owns it
// and closes it on Close.
func NewRedisCommFromClient(client *redis.Client, opts RedisOptions, rank, size int, codec Codec) *RedisComm {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "sobel"
	}
	runID := opts.RunID
	if runID == "" {
		runID = "default"
	}
	block := opts.BlockTimeout
	if block <= 0 {
		block = DefaultBlockTimeout
	}
	block = max(block, time.Second)
	ttl := opts.KeyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisComm{
		client: client,
		rank:   rank,
		size:   size,
		prefix: fmt.Sprintf("%s:%s", prefix, runID),
		block:  block,
		ttl:    ttl,
		codec:  codec,
	}
}

func (r *RedisComm) Rank() int { return r.rank }
func (r *RedisComm) Size() int { return r.size }

func (r *RedisComm) Close() error {
	return r.client.Close()
}

func (r *RedisComm) pairKey(src, dest int) string {
	return fmt.Sprintf("%s:%d->%d", r.prefix, src, dest)
}

func (r *RedisComm) Send(ctx context.Context, dest int, tag Tag, body []byte) error {
	if err := checkPeer(r, dest); err != nil {
		return err
	}

	data, err := r.codec.Encode(Envelope{Tag: tag, Src: r.rank, Body: body})
	if err != nil {
		return err
	}

	key := r.pairKey(r.rank, dest)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push %s to rank %d: %w", tag, dest, err)
	}

	r.stats.addSent(len(data))
	return nil
}

func (r *RedisComm) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := checkPeer(r, src); err != nil {
		return nil, err
	}
	_, body, err := r.recv(ctx, tag, []int{src})
	return body, err
}

func (r *RedisComm) RecvAny(ctx context.Context, tag Tag, srcs ...int) (int, []byte, error) {
	if len(srcs) == 0 {
		return 0, nil, fmt.Errorf("%w: no source ranks given", ErrPeer)
	}
	for _, src := range srcs {
		if err := checkPeer(r, src); err != nil {
			return 0, nil, err
		}
	}
	return r.recv(ctx, tag, srcs)
}

func (r *RedisComm) recv(ctx context.Context, tag Tag, srcs []int) (int, []byte, error) {
	keys := make([]string, len(srcs))
	byKey := make(map[string]int, len(srcs))
	for i, src := range srcs {
		keys[i] = r.pairKey(src, r.rank)
		byKey[keys[i]] = src
	}

	for {
		result, err := r.client.BRPop(ctx, r.block, keys...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, nil, ctxErr
			}
			return 0, nil, fmt.Errorf("failed to pop %s: %w", tag, err)
		}
		if len(result) < 2 {
			return 0, nil, fmt.Errorf("unexpected result format")
		}

		src, ok := byKey[result[0]]
		if !ok {
			return 0, nil, fmt.Errorf("%w: message from unexpected list %s", ErrProtocol, result[0])
		}

		data := []byte(result[1])
		r.stats.addReceived(len(data))

		env, err := r.codec.Decode(data)
		if err != nil {
			return src, nil, err
		}
		body, err := checkTag(env, tag)
		return src, body, err
	}
}

func (r *RedisComm) Abort(ctx context.Context, reason string) error {
	return abortAll(ctx, r, reason)
}

func (r *RedisComm) Traffic() Traffic {
	return r.stats.snapshot()
}

// Cleanup deletes every list between this rank and its peers. The
// coordinator calls it before its first send and again after a successful
// run, once the last message has been consumed.
func (r *RedisComm) Cleanup(ctx context.Context) error {
	keys := make([]string, 0, 2*(r.size-1))
	for peer := 0; peer < r.size; peer++ {
		if peer == r.rank {
			continue
		}
		keys = append(keys, r.pairKey(r.rank, peer), r.pairKey(peer, r.rank))
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
