/*
	This file handles numpy-style data types of array elements and the conversion of
	single elements to and from float64.
*/

package ndv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataType is a numpy array protocol type string, e.g., "<f8" or "|u1".  It
// consists of a byte order, a kind code, an item size in bytes, and optional
// datetime units.
type DataType struct {
	Order byte // '<' little-endian, '>' big-endian, '|' not relevant
	Kind  byte // one of "biufcmMSUV"
	Size  int
	Units string
}

var (
	_ json.Unmarshaler = (*DataType)(nil)
	_ json.Marshaler   = DataType{}
)

// Commonly used data types.
var (
	Bool    = DataType{'|', 'b', 1, ""}
	Uint8   = DataType{'|', 'u', 1, ""}
	Int8    = DataType{'|', 'i', 1, ""}
	Uint16  = DataType{'<', 'u', 2, ""}
	Int16   = DataType{'<', 'i', 2, ""}
	Uint32  = DataType{'<', 'u', 4, ""}
	Int32   = DataType{'<', 'i', 4, ""}
	Uint64  = DataType{'<', 'u', 8, ""}
	Int64   = DataType{'<', 'i', 8, ""}
	Float16 = DataType{'<', 'f', 2, ""}
	Float32 = DataType{'<', 'f', 4, ""}
	Float64 = DataType{'<', 'f', 8, ""}
)

const dtypeKinds = "biufcmMSUV"

// ParseDataType parses a numpy typestr.  A missing byte order is allowed for
// single byte types and the native order "=" is taken as little-endian.
func ParseDataType(s string) (DataType, error) {
	var dt DataType
	s = strings.TrimSpace(s)
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)
	if len(s) < 2 {
		return dt, fmt.Errorf("invalid data type %q: too short", s)
	}
	switch s[0] {
	case '<', '>', '|':
		dt.Order, s = s[0], s[1:]
	case '=':
		dt.Order, s = '<', s[1:]
	default:
		dt.Order = '|'
	}
	if strings.IndexByte(dtypeKinds, s[0]) < 0 {
		return dt, fmt.Errorf("invalid data type kind %q", s[0])
	}
	dt.Kind, s = s[0], s[1:]
	sizeStr := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, dt.Units = s[:i], s[i:]
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 0 {
		return dt, fmt.Errorf("invalid data type size %q", sizeStr)
	}
	dt.Size = size
	if dt.Kind == 'U' {
		dt.Size = size * 4 // UCS-4 characters
	}
	if dt.Size > 1 && dt.Order == '|' && dt.Numeric() {
		dt.Order = '<'
	}
	if dt.Size == 1 {
		dt.Order = '|'
	}
	return dt, nil
}

// MustParseDataType is like ParseDataType but panics on error.
func MustParseDataType(s string) DataType {
	dt, err := ParseDataType(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// String returns the typestr.  Unicode types give their length in characters
// while Size is always in bytes.
func (dt DataType) String() string {
	n := dt.Size
	if dt.Kind == 'U' {
		n /= 4
	}
	return fmt.Sprintf("%c%c%d%s", dt.Order, dt.Kind, n, dt.Units)
}

// Name returns the numpy name of the type, e.g., "float32" or "uint8".
func (dt DataType) Name() string {
	switch dt.Kind {
	case 'b':
		return "bool"
	case 'i':
		return fmt.Sprintf("int%d", dt.Size*8)
	case 'u':
		return fmt.Sprintf("uint%d", dt.Size*8)
	case 'f':
		return fmt.Sprintf("float%d", dt.Size*8)
	case 'c':
		return fmt.Sprintf("complex%d", dt.Size*8)
	case 'S':
		return fmt.Sprintf("bytes%d", dt.Size*8)
	case 'U':
		return fmt.Sprintf("str%d", dt.Size*8)
	case 'm':
		return "timedelta64" + dt.Units
	case 'M':
		return "datetime64" + dt.Units
	default:
		return fmt.Sprintf("void%d", dt.Size*8)
	}
}

func (dt DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

func (dt *DataType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := ParseDataType(s)
	if err != nil {
		return err
	}
	*dt = t
	return nil
}

// ByteOrder returns the binary encoding of multi-byte values.
func (dt DataType) ByteOrder() binary.ByteOrder {
	if dt.Order == '>' {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Numeric returns true if elements of this type can be converted to float64.
func (dt DataType) Numeric() bool {
	switch dt.Kind {
	case 'b':
		return dt.Size == 1
	case 'i', 'u':
		return dt.Size == 1 || dt.Size == 2 || dt.Size == 4 || dt.Size == 8
	case 'f':
		return dt.Size == 2 || dt.Size == 4 || dt.Size == 8
	}
	return false
}

// Float reports whether the type is a floating point type and so can hold NaN.
func (dt DataType) Float() bool {
	return dt.Kind == 'f'
}

// Float64At decodes the element at the start of buf.  The type must be Numeric.
func (dt DataType) Float64At(buf []byte) float64 {
	bo := dt.ByteOrder()
	switch dt.Kind {
	case 'b':
		if buf[0] != 0 {
			return 1
		}
		return 0
	case 'i':
		switch dt.Size {
		case 1:
			return float64(int8(buf[0]))
		case 2:
			return float64(int16(bo.Uint16(buf)))
		case 4:
			return float64(int32(bo.Uint32(buf)))
		case 8:
			return float64(int64(bo.Uint64(buf)))
		}
	case 'u':
		switch dt.Size {
		case 1:
			return float64(buf[0])
		case 2:
			return float64(bo.Uint16(buf))
		case 4:
			return float64(bo.Uint32(buf))
		case 8:
			return float64(bo.Uint64(buf))
		}
	case 'f':
		switch dt.Size {
		case 2:
			return float64(halfToFloat32(bo.Uint16(buf)))
		case 4:
			return float64(math.Float32frombits(bo.Uint32(buf)))
		case 8:
			return math.Float64frombits(bo.Uint64(buf))
		}
	}
	return math.NaN()
}

// PutFloat64 encodes v into the start of buf, truncating toward zero for integer
// types.  The type must be Numeric.
func (dt DataType) PutFloat64(buf []byte, v float64) {
	bo := dt.ByteOrder()
	switch dt.Kind {
	case 'b':
		if v != 0 {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
	case 'i':
		switch dt.Size {
		case 1:
			buf[0] = byte(int8(v))
		case 2:
			bo.PutUint16(buf, uint16(int16(v)))
		case 4:
			bo.PutUint32(buf, uint32(int32(v)))
		case 8:
			bo.PutUint64(buf, uint64(int64(v)))
		}
	case 'u':
		switch dt.Size {
		case 1:
			buf[0] = uint8(v)
		case 2:
			bo.PutUint16(buf, uint16(v))
		case 4:
			bo.PutUint32(buf, uint32(v))
		case 8:
			bo.PutUint64(buf, uint64(v))
		}
	case 'f':
		switch dt.Size {
		case 2:
			bo.PutUint16(buf, float32ToHalf(float32(v)))
		case 4:
			bo.PutUint32(buf, math.Float32bits(float32(v)))
		case 8:
			bo.PutUint64(buf, math.Float64bits(v))
		}
	}
}

// IEEE 754 binary16 conversions.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff
	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
}

func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23) & 0xff
	mant := bits & 0x7fffff
	switch {
	case exp == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp-127 > 15:
		return sign | 0x7c00
	case exp-127 < -14:
		shift := uint32(-14 - (exp - 127))
		if shift > 24 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>(13+shift))
	}
	return sign | uint16(exp-112)<<10 | uint16(mant>>13)
}
