package queue

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the frame that travels between two ranks.
type Envelope struct {
	Tag        Tag    `msgpack:"t"`
	Src        int    `msgpack:"s"`
	Compressed bool   `msgpack:"z,omitempty"`
	Body       []byte `msgpack:"b"`
}

// Codec frames envelopes with msgpack. When Compress is set, pixel bodies are
// zstd-compressed; decoding handles both forms regardless of the setting.
type Codec struct {
	Compress bool
}

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

func compressible(tag Tag) bool {
	return tag == TagData || tag == TagResult
}

func (c Codec) Encode(env Envelope) ([]byte, error) {
	if c.Compress && compressible(env.Tag) && len(env.Body) > 0 {
		enc := zstdEncPool.Get().(*zstd.Encoder)
		env.Body = enc.EncodeAll(env.Body, nil)
		zstdEncPool.Put(enc)
		env.Compressed = true
	}

	frame, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return frame, nil
}

func (c Codec) Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: undecodable frame: %v", ErrProtocol, err)
	}

	if env.Compressed {
		dec := zstdDecPool.Get().(*zstd.Decoder)
		body, err := dec.DecodeAll(env.Body, nil)
		zstdDecPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decode: %v", ErrProtocol, err)
		}
		env.Body = body
		env.Compressed = false
	}
	if env.Body == nil {
		env.Body = []byte{}
	}
	return &env, nil
}
