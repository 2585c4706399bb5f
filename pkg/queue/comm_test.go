package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sobel/pkg/common"
)

// exerciseComm runs the behaviour every communicator must share against a
// group of at least three ranks.
func exerciseComm(t *testing.T, group []Comm) {
	t.Helper()
	require.GreaterOrEqual(t, len(group), 3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coord, w1, w2 := group[0], group[1], group[2]

	t.Run("fifo per pair", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, coord.Send(ctx, 1, TagData, []byte{byte(i)}))
		}
		for i := 0; i < 5; i++ {
			body, err := w1.Recv(ctx, 0, TagData)
			require.NoError(t, err)
			assert.Equal(t, []byte{byte(i)}, body)
		}
	})

	t.Run("tag mismatch", func(t *testing.T) {
		require.NoError(t, coord.Send(ctx, 2, TagMeta, []byte("meta")))
		_, err := w2.Recv(ctx, 0, TagData)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("recv any", func(t *testing.T) {
		require.NoError(t, w2.Send(ctx, 0, TagMeta, []byte("from 2")))
		src, body, err := coord.RecvAny(ctx, TagMeta, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, src)
		assert.Equal(t, []byte("from 2"), body)

		require.NoError(t, w1.Send(ctx, 0, TagMeta, []byte("from 1")))
		src, body, err = coord.RecvAny(ctx, TagMeta, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, src)
		assert.Equal(t, []byte("from 1"), body)
	})

	t.Run("recv any only listens to given ranks", func(t *testing.T) {
		require.NoError(t, w1.Send(ctx, 0, TagTime, []byte("late")))
		require.NoError(t, w2.Send(ctx, 0, TagMeta, []byte("meta")))

		src, _, err := coord.RecvAny(ctx, TagMeta, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, src)

		body, err := coord.Recv(ctx, 1, TagTime)
		require.NoError(t, err)
		assert.Equal(t, []byte("late"), body)
	})

	t.Run("empty body", func(t *testing.T) {
		require.NoError(t, w1.Send(ctx, 0, TagResult, nil))
		body, err := coord.Recv(ctx, 1, TagResult)
		require.NoError(t, err)
		assert.Empty(t, body)
	})

	t.Run("abort", func(t *testing.T) {
		require.NoError(t, coord.Abort(ctx, "bad kernel"))
		for _, w := range []Comm{w1, w2} {
			_, err := w.Recv(ctx, 0, TagKernel)
			assert.ErrorIs(t, err, ErrAborted)
			assert.Contains(t, err.Error(), "bad kernel")
		}
	})

	t.Run("invalid peer", func(t *testing.T) {
		assert.ErrorIs(t, coord.Send(ctx, 0, TagData, nil), ErrPeer)
		assert.ErrorIs(t, coord.Send(ctx, len(group), TagData, nil), ErrPeer)
		_, _, err := coord.RecvAny(ctx, TagMeta)
		assert.ErrorIs(t, err, ErrPeer)
	})

	t.Run("traffic", func(t *testing.T) {
		before := coord.Traffic()
		require.NoError(t, coord.Send(ctx, 1, TagData, make([]byte, 64)))
		_, err := w1.Recv(ctx, 0, TagData)
		require.NoError(t, err)

		delta := coord.Traffic().Sub(before)
		assert.Equal(t, int64(1), delta.MessagesSent)
		assert.Greater(t, delta.BytesSent, int64(0))
	})

	t.Run("work and result round trip", func(t *testing.T) {
		k := common.SobelKernel()
		require.NoError(t, BroadcastKernel(ctx, coord, k))
		for _, w := range []Comm{w1, w2} {
			got, err := RecvKernel(ctx, w)
			require.NoError(t, err)
			assert.Equal(t, k, got)
		}

		unit := common.WorkUnit{
			WorkMeta: common.WorkMeta{UnitID: "u1", Width: 3, InteriorRowCount: 2, InteriorStartRow: 0, SendRowCount: 3, SendStartRow: 0},
			Pix:      []byte{1, 2, 3, 4, 5, 6, 7, 8, 9},
		}
		require.NoError(t, SendWork(ctx, coord, 1, unit))
		got, err := RecvWork(ctx, w1)
		require.NoError(t, err)
		assert.Equal(t, unit, got)

		res := common.ResultUnit{
			ResultMeta: common.ResultMeta{UnitID: "u1", Worker: 1, Width: 3, InteriorRowCount: 2},
			Pix:        []byte{0, 0, 0, 0, 9, 0},
		}
		require.NoError(t, SendResult(ctx, w1, res, 1500*time.Microsecond))

		src, gotRes, err := RecvResult(ctx, coord, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, src)
		assert.Equal(t, res, gotRes)

		elapsed, err := RecvComputeTime(ctx, coord, 1)
		require.NoError(t, err)
		assert.Equal(t, 1500*time.Microsecond, elapsed)
	})

	t.Run("undersized payload", func(t *testing.T) {
		meta := common.WorkMeta{UnitID: "short", Width: 4, InteriorRowCount: 2, SendRowCount: 2}
		bad := common.WorkUnit{WorkMeta: meta, Pix: make([]byte, 5)}
		require.NoError(t, SendWork(ctx, coord, 2, bad))
		_, err := RecvWork(ctx, w2)
		assert.ErrorIs(t, err, ErrProtocol)
	})
}

func TestCodecCompression(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = byte(i % 7)
	}

	plain, err := Codec{}.Encode(Envelope{Tag: TagData, Src: 1, Body: body})
	require.NoError(t, err)
	packed, err := Codec{Compress: true}.Encode(Envelope{Tag: TagData, Src: 1, Body: body})
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))

	// either codec decodes either frame
	for _, frame := range [][]byte{plain, packed} {
		env, err := Codec{}.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, TagData, env.Tag)
		assert.Equal(t, 1, env.Src)
		assert.Equal(t, body, env.Body)
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := Codec{}.Decode([]byte{0xc1, 0x00})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestCodecLeavesMetaUncompressed(t *testing.T) {
	env, err := Codec{Compress: true}.Encode(Envelope{Tag: TagMeta, Body: []byte("abc")})
	require.NoError(t, err)
	decoded, err := Codec{}.Decode(env)
	require.NoError(t, err)
	assert.False(t, decoded.Compressed)
	assert.Equal(t, []byte("abc"), decoded.Body)
}
