package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"go-sobel/pkg/common"
)

// BroadcastKernel sends the coefficients to every worker before any unit.
func BroadcastKernel(ctx context.Context, c Comm, k common.Kernel) error {
	body, err := msgpack.Marshal(&k)
	if err != nil {
		return fmt.Errorf("failed to marshal kernel: %w", err)
	}
	return Broadcast(ctx, c, TagKernel, body)
}

func RecvKernel(ctx context.Context, c Comm) (common.Kernel, error) {
	var k common.Kernel
	body, err := c.Recv(ctx, common.COORDINATOR, TagKernel)
	if err != nil {
		return k, err
	}
	if err := msgpack.Unmarshal(body, &k); err != nil {
		return k, fmt.Errorf("%w: kernel: %v", ErrProtocol, err)
	}
	return k, nil
}

// SendWork sends the unit metadata followed by its pixel payload.
func SendWork(ctx context.Context, c Comm, dest int, unit common.WorkUnit) error {
	meta, err := msgpack.Marshal(&unit.WorkMeta)
	if err != nil {
		return fmt.Errorf("failed to marshal work meta: %w", err)
	}
	if err := c.Send(ctx, dest, TagMeta, meta); err != nil {
		return err
	}
	return c.Send(ctx, dest, TagData, unit.Pix)
}

// RecvWork receives one unit from the coordinator. A payload whose size does
// not match the metadata is a protocol error.
func RecvWork(ctx context.Context, c Comm) (common.WorkUnit, error) {
	var unit common.WorkUnit

	body, err := c.Recv(ctx, common.COORDINATOR, TagMeta)
	if err != nil {
		return unit, err
	}
	if err := msgpack.Unmarshal(body, &unit.WorkMeta); err != nil {
		return unit, fmt.Errorf("%w: work meta: %v", ErrProtocol, err)
	}
	if err := unit.WorkMeta.Validate(); err != nil {
		return unit, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	pix, err := c.Recv(ctx, common.COORDINATOR, TagData)
	if err != nil {
		return unit, err
	}
	if len(pix) != unit.PayloadSize() {
		return unit, fmt.Errorf("%w: unit %s payload is %d bytes, metadata says %d",
			ErrProtocol, unit.UnitID, len(pix), unit.PayloadSize())
	}
	unit.Pix = pix
	return unit, nil
}

// SendResult sends result metadata, payload and compute time, in that order.
func SendResult(ctx context.Context, c Comm, res common.ResultUnit, compute time.Duration) error {
	meta, err := msgpack.Marshal(&res.ResultMeta)
	if err != nil {
		return fmt.Errorf("failed to marshal result meta: %w", err)
	}
	if err := c.Send(ctx, common.COORDINATOR, TagMeta, meta); err != nil {
		return err
	}
	if err := c.Send(ctx, common.COORDINATOR, TagResult, res.Pix); err != nil {
		return err
	}

	elapsed, err := msgpack.Marshal(compute.Nanoseconds())
	if err != nil {
		return fmt.Errorf("failed to marshal compute time: %w", err)
	}
	return c.Send(ctx, common.COORDINATOR, TagTime, elapsed)
}

// RecvResult waits for the next result from any of workers, whichever
// arrives first, and returns it with the rank that sent it.
func RecvResult(ctx context.Context, c Comm, workers ...int) (int, common.ResultUnit, error) {
	var res common.ResultUnit

	src, body, err := c.RecvAny(ctx, TagMeta, workers...)
	if err != nil {
		return src, res, err
	}
	if err := msgpack.Unmarshal(body, &res.ResultMeta); err != nil {
		return src, res, fmt.Errorf("%w: result meta from rank %d: %v", ErrProtocol, src, err)
	}

	pix, err := c.Recv(ctx, src, TagResult)
	if err != nil {
		return src, res, err
	}
	if len(pix) != res.PayloadSize() {
		return src, res, fmt.Errorf("%w: rank %d sent %d result bytes, metadata says %d",
			ErrProtocol, src, len(pix), res.PayloadSize())
	}
	res.Pix = pix
	return src, res, nil
}

func RecvComputeTime(ctx context.Context, c Comm, src int) (time.Duration, error) {
	body, err := c.Recv(ctx, src, TagTime)
	if err != nil {
		return 0, err
	}
	var ns int64
	if err := msgpack.Unmarshal(body, &ns); err != nil {
		return 0, fmt.Errorf("%w: compute time from rank %d: %v", ErrProtocol, src, err)
	}
	if ns < 0 {
		return 0, fmt.Errorf("%w: negative compute time from rank %d", ErrProtocol, src)
	}
	return time.Duration(ns), nil
}
