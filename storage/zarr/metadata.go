package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ndvserve/ndv/ndv"
)

// Metadata keys within a zarr v2 store.
const (
	KeyArray      = ".zarray"
	KeyGroup      = ".zgroup"
	KeyAttributes = ".zattrs"
)

// Special fill values, encoded as JSON strings.
const (
	FillValueNaN              = "NaN"
	FillValueInfinity         = "Infinity"
	FillValueNegativeInfinity = "-Infinity"
)

// ArrayMeta is the content of a .zarray key.
type ArrayMeta struct {
	ZarrFormat int             `json:"zarr_format"`
	Shape      []int           `json:"shape"`
	Chunks     []int           `json:"chunks"`
	DType      json.RawMessage `json:"dtype"`
	Compressor *Compressor     `json:"compressor"`
	FillValue  interface{}     `json:"fill_value"`
	Order      string          `json:"order"`
	Filters    []interface{}   `json:"filters"`

	// DimensionSeparator is "." (the default) or "/" for nested chunk keys.
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

// Compressor is the primary codec configuration of an array.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
	Cname string `json:"cname,omitempty"`
}

// GroupMeta is the content of a .zgroup key.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// ParseArrayMeta decodes and validates .zarray contents.
func ParseArrayMeta(data []byte) (*ArrayMeta, error) {
	var m ArrayMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bad .zarray metadata: %v", err)
	}
	if m.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr format %d", m.ZarrFormat)
	}
	if len(m.Shape) != len(m.Chunks) {
		return nil, fmt.Errorf("chunks %v don't match rank of shape %v", m.Chunks, m.Shape)
	}
	for i, c := range m.Chunks {
		if c < 1 || m.Shape[i] < 0 {
			return nil, fmt.Errorf("bad shape %v or chunks %v", m.Shape, m.Chunks)
		}
	}
	if _, err := m.DataType(); err != nil {
		return nil, err
	}
	switch m.Order {
	case "", "C", "F":
	default:
		return nil, fmt.Errorf("bad array order %q", m.Order)
	}
	if len(m.Filters) != 0 {
		return nil, fmt.Errorf("zarr filters are not supported")
	}
	switch m.DimensionSeparator {
	case "":
		m.DimensionSeparator = "."
	case ".", "/":
	default:
		return nil, fmt.Errorf("bad dimension separator %q", m.DimensionSeparator)
	}
	if _, err := m.codec(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DataType returns the array's element type.  Structured types are rejected.
func (m *ArrayMeta) DataType() (ndv.DataType, error) {
	var s string
	if err := json.Unmarshal(m.DType, &s); err != nil {
		return ndv.DataType{}, fmt.Errorf("structured zarr dtype %s is not supported", m.DType)
	}
	return ndv.ParseDataType(s)
}

// Fill returns the fill value as a float64.  A null fill value is zero.
func (m *ArrayMeta) Fill() (float64, error) {
	switch v := m.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		switch v {
		case FillValueNaN:
			return math.NaN(), nil
		case FillValueInfinity:
			return math.Inf(1), nil
		case FillValueNegativeInfinity:
			return math.Inf(-1), nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unsupported fill value %v", m.FillValue)
}

// ChunkKey returns the key of the chunk with the given grid coordinates, e.g.,
// "1.4" or "1/4" for nested stores.  A 0-d array has the single chunk "0".
func ChunkKey(indices []int, separator string) string {
	if len(indices) == 0 {
		return "0"
	}
	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}
	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}
