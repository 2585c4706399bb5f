package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrProtocol reports a message that does not fit the per-unit sequence.
	ErrProtocol = errors.New("protocol error")
	// ErrAborted is returned by a receive that got an abort from a peer.
	ErrAborted = errors.New("run aborted")
	// ErrClosed is returned by operations on a closed communicator.
	ErrClosed = errors.New("communicator closed")
	// ErrPeer reports a rank outside the group, or the caller's own rank.
	ErrPeer = errors.New("no such peer")
)

// Tag identifies the kind of a message within the fixed exchange sequence.
type Tag uint8

const (
	TagKernel Tag = iota + 1
	TagMeta
	TagData
	TagResult
	TagTime
	TagAbort
)

func (t Tag) String() string {
	switch t {
	case TagKernel:
		return "kernel"
	case TagMeta:
		return "meta"
	case TagData:
		return "data"
	case TagResult:
		return "result"
	case TagTime:
		return "time"
	case TagAbort:
		return "abort"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Comm is a blocking point-to-point communicator for a fixed process group.
// Messages between one ordered pair of ranks are delivered in send order;
// there is no ordering across different senders.
type Comm interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest int, tag Tag, body []byte) error
	// Recv blocks until the next message from src arrives. It fails with
	// ErrProtocol if that message does not carry tag.
	Recv(ctx context.Context, src int, tag Tag) ([]byte, error)
	// RecvAny blocks until the next message from any of srcs arrives.
	RecvAny(ctx context.Context, tag Tag, srcs ...int) (int, []byte, error)
	// Abort tells every other rank to stop.
	Abort(ctx context.Context, reason string) error
	Traffic() Traffic
	Close() error
}

// Cleaner is implemented by transports whose messages outlive a run. The
// coordinator calls Cleanup before it sends anything, so frames left behind
// by an earlier run with the same id are never delivered.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Traffic counts wire bytes moved by one rank.
type Traffic struct {
	BytesSent     int64
	BytesReceived int64
	MessagesSent  int64
	MessagesRecvd int64
}

func (t Traffic) Sub(o Traffic) Traffic {
	return Traffic{
		BytesSent:     t.BytesSent - o.BytesSent,
		BytesReceived: t.BytesReceived - o.BytesReceived,
		MessagesSent:  t.MessagesSent - o.MessagesSent,
		MessagesRecvd: t.MessagesRecvd - o.MessagesRecvd,
	}
}

type counters struct {
	sent, received, msgsSent, msgsRecvd atomic.Int64
}

func (c *counters) addSent(n int) {
	c.sent.Add(int64(n))
	c.msgsSent.Add(1)
}

func (c *counters) addReceived(n int) {
	c.received.Add(int64(n))
	c.msgsRecvd.Add(1)
}

func (c *counters) snapshot() Traffic {
	return Traffic{
		BytesSent:     c.sent.Load(),
		BytesReceived: c.received.Load(),
		MessagesSent:  c.msgsSent.Load(),
		MessagesRecvd: c.msgsRecvd.Load(),
	}
}

// checkTag turns an abort into ErrAborted and any other unexpected tag into
// ErrProtocol.
func checkTag(env *Envelope, want Tag) ([]byte, error) {
	if env.Tag == TagAbort {
		return nil, fmt.Errorf("%w by rank %d: %s", ErrAborted, env.Src, env.Body)
	}
	if env.Tag != want {
		return nil, fmt.Errorf("%w: expected %s from rank %d, got %s", ErrProtocol, want, env.Src, env.Tag)
	}
	return env.Body, nil
}

func checkPeer(c Comm, peer int) error {
	if peer < 0 || peer >= c.Size() || peer == c.Rank() {
		return fmt.Errorf("%w: rank %d in group of %d (self %d)", ErrPeer, peer, c.Size(), c.Rank())
	}
	return nil
}

// Broadcast sends body from rank 0 to every other rank, in rank order.
func Broadcast(ctx context.Context, c Comm, tag Tag, body []byte) error {
	for dest := 0; dest < c.Size(); dest++ {
		if dest == c.Rank() {
			continue
		}
		if err := c.Send(ctx, dest, tag, body); err != nil {
			return fmt.Errorf("broadcast %s to rank %d: %w", tag, dest, err)
		}
	}
	return nil
}

func abortAll(ctx context.Context, c Comm, reason string) error {
	var errs []error
	for dest := 0; dest < c.Size(); dest++ {
		if dest == c.Rank() {
			continue
		}
		if err := c.Send(ctx, dest, TagAbort, []byte(reason)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
