/*
	This file supports compression and decompression of array payloads, both for
	data returned by the HTTP API and for compressed chunks read from array stores.
*/

package ndv

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the format of compression applied to a byte payload.
type Compression uint8

const (
	Uncompressed Compression = iota
	Snappy
	LZ4
	Gzip
	Zstd
	Zlib
	Bzip2 // decompression only
)

var compressionNames = map[Compression]string{
	Uncompressed: "",
	Snappy:       "snappy",
	LZ4:          "lz4",
	Gzip:         "gzip",
	Zstd:         "zstd",
	Zlib:         "zlib",
	Bzip2:        "bz2",
}

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "No compression"
	case Snappy:
		return "Go Snappy compression"
	case LZ4:
		return "Go LZ4 compression"
	case Gzip:
		return "gzip compression"
	case Zstd:
		return "Zstandard compression"
	case Zlib:
		return "zlib compression"
	case Bzip2:
		return "bzip2 compression"
	default:
		return "Unknown compression"
	}
}

// Name returns the short name used in query strings, e.g., "lz4".
func (compress Compression) Name() string {
	return compressionNames[compress]
}

// ParseCompression returns the Compression for a short name.  Empty strings and
// "none" are Uncompressed.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "raw":
		return Uncompressed, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "zlib":
		return Zlib, nil
	case "bz2", "bzip2":
		return Bzip2, nil
	}
	return Uncompressed, fmt.Errorf("unknown compression %q", name)
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Compress returns data compressed with the given format.  Snappy uses the block
// format while LZ4 uses the frame format.
func Compress(data []byte, compress Compression) ([]byte, error) {
	switch compress {
	case Uncompressed:
		return data, nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case Bzip2:
		return nil, fmt.Errorf("%s is only supported for reading", compress)
	}
	var buf bytes.Buffer
	var w io.WriteCloser
	switch compress {
	case LZ4:
		w = lz4.NewWriter(&buf)
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Zlib:
		w = zlib.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("illegal compression (%d) requested", compress)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte, compress Compression) ([]byte, error) {
	switch compress {
	case Uncompressed:
		return data, nil
	case Snappy:
		return snappy.Decode(nil, data)
	case Zstd:
		return zstdDecoder.DecodeAll(data, nil)
	}
	var r io.Reader
	switch compress {
	case LZ4:
		r = lz4.NewReader(bytes.NewReader(data))
	case Gzip:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case Bzip2:
		r = bzip2.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("illegal compression (%d) during decompression", compress)
	}
	return io.ReadAll(r)
}
