package zarr

import (
	"encoding/binary"
	"fmt"

	"github.com/ndvserve/ndv/ndv"

	"github.com/pierrec/lz4/v4"
)

// codec decodes stored chunk bytes.
type codec func(data []byte) ([]byte, error)

func (m *ArrayMeta) codec() (codec, error) {
	if m.Compressor == nil {
		return func(data []byte) ([]byte, error) { return data, nil }, nil
	}
	switch m.Compressor.ID {
	case "zlib":
		return decompressor(ndv.Zlib), nil
	case "gzip":
		return decompressor(ndv.Gzip), nil
	case "zstd":
		return decompressor(ndv.Zstd), nil
	case "bz2":
		return decompressor(ndv.Bzip2), nil
	case "snappy":
		return decompressor(ndv.Snappy), nil
	case "lz4":
		return decodeLZ4, nil
	default:
		return nil, fmt.Errorf("unsupported zarr compressor %q", m.Compressor.ID)
	}
}

func decompressor(c ndv.Compression) codec {
	return func(data []byte) ([]byte, error) {
		return ndv.Decompress(data, c)
	}
}

// decodeLZ4 decodes the numcodecs LZ4 format: the little-endian uncompressed
// size followed by an LZ4 block.
func decodeLZ4(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4 chunk too short: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint32(data[:4])
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	written, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, fmt.Errorf("bad lz4 chunk: %v", err)
	}
	return out[:written], nil
}
