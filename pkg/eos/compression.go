package eos

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Cached values are small, so a shared encoder/decoder pair working on whole
// buffers (EncodeAll/DecodeAll) beats a stream per value.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {

	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}

		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})

	return zstdEncoder, zstdDecoder, zstdErr
}

// CompressWithZstd compresses data into a new slice.
func CompressWithZstd(data []byte) ([]byte, error) {

	encoder, _, err := zstdCodec()
	if err != nil {
		return nil, err
	}

	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// DecompressWithZstd reverses CompressWithZstd.
func DecompressWithZstd(data []byte) ([]byte, error) {

	_, decoder, err := zstdCodec()
	if err != nil {
		return nil, err
	}

	return decoder.DecodeAll(data, nil)
}
