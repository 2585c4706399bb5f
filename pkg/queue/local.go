package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

type frame struct {
	src  int
	data []byte
}

// mailbox holds frames addressed to one rank, in arrival order.
type mailbox struct {
	mu     sync.Mutex
	frames []frame
	notify chan struct{}
}

func (m *mailbox) put(f frame) {
	m.mu.Lock()
	m.frames = append(m.frames, f)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// take removes the oldest frame sent by one of srcs.
func (m *mailbox) take(srcs []int) (frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, f := range m.frames {
		if slices.Contains(srcs, f.src) {
			m.frames = append(m.frames[:i], m.frames[i+1:]...)
			return f, true
		}
	}
	return frame{}, false
}

// LocalComm is an in-memory communicator. Ranks of one group share their
// mailboxes and are meant to run in the same process, one goroutine each.
type LocalComm struct {
	rank   int
	boxes  []*mailbox
	codec  Codec
	stats  counters
	closed atomic.Bool
}

// NewLocalGroup returns one communicator per rank of a size-process group.
func NewLocalGroup(size int, codec Codec) []*LocalComm {
	boxes := make([]*mailbox, size)
	for i := range boxes {
		boxes[i] = &mailbox{notify: make(chan struct{}, 1)}
	}

	comms := make([]*LocalComm, size)
	for rank := range comms {
		comms[rank] = &LocalComm{rank: rank, boxes: boxes, codec: codec}
	}
	return comms
}

func (l *LocalComm) Rank() int { return l.rank }
func (l *LocalComm) Size() int { return len(l.boxes) }

func (l *LocalComm) Send(ctx context.Context, dest int, tag Tag, body []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := checkPeer(l, dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := l.codec.Encode(Envelope{Tag: tag, Src: l.rank, Body: body})
	if err != nil {
		return err
	}
	l.boxes[dest].put(frame{src: l.rank, data: data})
	l.stats.addSent(len(data))
	return nil
}

func (l *LocalComm) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := checkPeer(l, src); err != nil {
		return nil, err
	}
	_, body, err := l.recv(ctx, tag, []int{src})
	return body, err
}

func (l *LocalComm) RecvAny(ctx context.Context, tag Tag, srcs ...int) (int, []byte, error) {
	if len(srcs) == 0 {
		return 0, nil, fmt.Errorf("%w: no source ranks given", ErrPeer)
	}
	for _, src := range srcs {
		if err := checkPeer(l, src); err != nil {
			return 0, nil, err
		}
	}
	return l.recv(ctx, tag, srcs)
}

func (l *LocalComm) recv(ctx context.Context, tag Tag, srcs []int) (int, []byte, error) {
	box := l.boxes[l.rank]
	for {
		if l.closed.Load() {
			return 0, nil, ErrClosed
		}
		if f, ok := box.take(srcs); ok {
			l.stats.addReceived(len(f.data))
			env, err := l.codec.Decode(f.data)
			if err != nil {
				return f.src, nil, err
			}
			body, err := checkTag(env, tag)
			return f.src, body, err
		}

		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-box.notify:
		}
	}
}

func (l *LocalComm) Abort(ctx context.Context, reason string) error {
	return abortAll(ctx, l, reason)
}

func (l *LocalComm) Traffic() Traffic {
	return l.stats.snapshot()
}

func (l *LocalComm) Close() error {
	l.closed.Store(true)
	return nil
}
