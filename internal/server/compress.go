package server

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Stored blobs (bank file bodies, register archives) are zstd-compressed.
// The encoder and decoder are stateless in EncodeAll/DecodeAll mode and safe
// for concurrent use.
var (
	blobEncoder *zstd.Encoder
	blobDecoder *zstd.Decoder
)

func init() {
	var err error
	blobEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("server: init zstd encoder: %v", err))
	}
	blobDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("server: init zstd decoder: %v", err))
	}
}

func compressBlob(data []byte) []byte {
	return blobEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func decompressBlob(data []byte) ([]byte, error) {
	out, err := blobDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	return out, nil
}
