package checkpoint

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Package-level encoder/decoder, safe for concurrent use. Checkpoint
// blobs in the SQLite backend are zstd-compressed: registry snapshots
// and captured screen output compress well.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("checkpoint: init zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("checkpoint: init zstd decoder: %v", err))
	}
}

// compressBlob compresses serialized checkpoint JSON.
func compressBlob(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// decompressBlob reverses compressBlob.
func decompressBlob(data []byte) ([]byte, error) {
	return decoder.DecodeAll(data, nil)
}
