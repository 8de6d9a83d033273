package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the per-page compression algorithm.
type Compression uint8

const (
	// CompressionNone stores pages verbatim.
	CompressionNone Compression = iota
	// CompressionLZ4 favors speed.
	CompressionLZ4
	// CompressionZSTD favors ratio.
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression is the inverse of Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) MarshalText() ([]byte, error) {
	if c > CompressionZSTD {
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Compression) UnmarshalText(text []byte) error {
	v, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Frame format: [raw size u32][stored size u32][data]. A stored size of 0
// marks an uncompressed frame whose data has raw size bytes.
const frameHeaderSize = 8

var errShortFrame = errors.New("frame is truncated")

// encodeFrame compresses payload. Pages that do not shrink by at least 10%
// are stored raw.
func encodeFrame(payload []byte, c Compression) ([]byte, error) {
	var packed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n]
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		packed = enc.EncodeAll(payload, nil)
		zstdEncoderPool.Put(enc)
	}

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(payload)))
	if len(packed) == 0 || float64(len(packed)) > float64(len(payload))*0.9 {
		return append(frame, payload...), nil
	}
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(packed)))
	return append(frame, packed...), nil
}

func decodeFrame(frame []byte, c Compression) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, errShortFrame
	}
	raw := binary.LittleEndian.Uint32(frame[0:])
	stored := binary.LittleEndian.Uint32(frame[4:])
	data := frame[frameHeaderSize:]

	if stored == 0 {
		if uint32(len(data)) < raw {
			return nil, errShortFrame
		}
		return data[:raw], nil
	}
	if uint32(len(data)) < stored {
		return nil, errShortFrame
	}
	data = data[:stored]

	switch c {
	case CompressionLZ4:
		out := make([]byte, raw)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != raw {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, raw))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != raw {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compressed frame in a %s snapshot", c)
	}
}
