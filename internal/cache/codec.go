package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the algorithm applied to entry payloads above the
// threshold.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	}
	return 0, fmt.Errorf("unknown cache compression %q", name)
}

// DefaultCompressThreshold is the payload size above which entries are
// compressed.
const DefaultCompressThreshold = 1024

var errIncompressible = errors.New("cache: payload incompressible")

// entry is the stored form of a cached value.
type entry struct {
	StoredAt    int64       `cbor:"1,keyasint"` // unix nanoseconds
	TTL         int64       `cbor:"2,keyasint"`
	Compression Compression `cbor:"3,keyasint"`
	Size        int         `cbor:"4,keyasint"`
	Payload     []byte      `cbor:"5,keyasint"`
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(time.Unix(0, e.StoredAt).Add(time.Duration(e.TTL)))
}

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

type codec struct {
	compression Compression
	threshold   int
}

// encode marshals v and wraps it in an entry stamped with storedAt and ttl.
func (c codec) encode(v any, storedAt time.Time, ttl time.Duration) ([]byte, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	e := entry{StoredAt: storedAt.UnixNano(), TTL: int64(ttl), Size: len(payload), Payload: payload}
	if c.compression != CompressionNone && len(payload) > c.threshold {
		if compressed, err := compress(payload, c.compression); err == nil {
			e.Compression = c.compression
			e.Payload = compressed
		}
	}
	return encMode.Marshal(e)
}

func (c codec) decodeEntry(data []byte) (entry, error) {
	var e entry
	if err := decMode.Unmarshal(data, &e); err != nil {
		return entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

func (c codec) decodeValue(e entry, v any) error {
	payload, err := decompress(e.Payload, e.Compression, e.Size)
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

func compress(data []byte, alg Compression) ([]byte, error) {
	switch alg {
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	}
	return data, nil
}

func decompress(data []byte, alg Compression, size int) ([]byte, error) {
	switch alg {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression %d", alg)
}
