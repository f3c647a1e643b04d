package chunk

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
	"github.com/ndvserve/ndv/storage/npy"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/tinylib/msgp/msgp"
)

// Format is an encoding of responses.
type Format uint8

const (
	FormatNpy Format = iota
	FormatJSON
	FormatArrow
	FormatMsgpack
)

var formatNames = map[Format]string{
	FormatNpy:     "npy",
	FormatJSON:    "json",
	FormatArrow:   "arrow",
	FormatMsgpack: "msgpack",
}

func (f Format) String() string {
	if name, found := formatNames[f]; found {
		return name
	}
	return fmt.Sprintf("format %d", f)
}

// ParseFormat returns the named format, or def for an empty name.
func ParseFormat(name string, def Format) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return def, nil
	}
	for f, fname := range formatNames {
		if fname == name {
			return f, nil
		}
	}
	return def, fmt.Errorf("unknown format %q, expected npy, json, arrow or msgpack", name)
}

// ContentType returns the HTTP content type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatArrow:
		return "application/vnd.apache.arrow.stream"
	case FormatMsgpack:
		return "application/msgpack"
	default:
		return npy.ContentType
	}
}

// EncodeArray writes an array in the given format.
func EncodeArray(w io.Writer, arr *ndv.Array, f Format) error {
	switch f {
	case FormatNpy:
		return npy.Encode(w, arr)
	case FormatJSON:
		return json.NewEncoder(w).Encode(ArrayValues(arr))
	case FormatArrow:
		return EncodeArrow(w, arr)
	case FormatMsgpack:
		b, err := MarshalArrayMsg(nil, arr)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("can't encode array as %s", f)
	}
}

// elementValue returns element i as an int64, uint64, bool or JSON-safe float.
func elementValue(arr *ndv.Array, i int) interface{} {
	dt := arr.DType
	buf := arr.Data[i*dt.Size:]
	bo := dt.ByteOrder()
	switch {
	case dt.Kind == 'b':
		return buf[0] != 0
	case dt.Kind == 'i' && dt.Size == 8:
		return int64(bo.Uint64(buf))
	case dt.Kind == 'u' && dt.Size == 8:
		return bo.Uint64(buf)
	case dt.Kind == 'i' || dt.Kind == 'u':
		return int64(dt.Float64At(buf))
	default:
		return jsonFloat(dt.Float64At(buf))
	}
}

// ArrayValues returns the elements of a numeric array as nested lists, or a
// single value for 0-d arrays.
func ArrayValues(arr *ndv.Array) interface{} {
	if !arr.DType.Numeric() {
		return nil
	}
	if len(arr.Shape) == 0 {
		return elementValue(arr, 0)
	}
	var pos int
	var build func(axis int) []interface{}
	build = func(axis int) []interface{} {
		out := make([]interface{}, arr.Shape[axis])
		for k := range out {
			if axis == len(arr.Shape)-1 {
				out[k] = elementValue(arr, pos)
				pos++
			} else {
				out[k] = build(axis + 1)
			}
		}
		return out
	}
	return build(0)
}

func arrowType(dt ndv.DataType) (arrow.DataType, error) {
	switch dt.Kind {
	case 'b':
		return arrow.FixedWidthTypes.Boolean, nil
	case 'i':
		switch dt.Size {
		case 1:
			return arrow.PrimitiveTypes.Int8, nil
		case 2:
			return arrow.PrimitiveTypes.Int16, nil
		case 4:
			return arrow.PrimitiveTypes.Int32, nil
		case 8:
			return arrow.PrimitiveTypes.Int64, nil
		}
	case 'u':
		switch dt.Size {
		case 1:
			return arrow.PrimitiveTypes.Uint8, nil
		case 2:
			return arrow.PrimitiveTypes.Uint16, nil
		case 4:
			return arrow.PrimitiveTypes.Uint32, nil
		case 8:
			return arrow.PrimitiveTypes.Uint64, nil
		}
	case 'f':
		switch dt.Size {
		case 2:
			return arrow.FixedWidthTypes.Float16, nil
		case 4:
			return arrow.PrimitiveTypes.Float32, nil
		case 8:
			return arrow.PrimitiveTypes.Float64, nil
		}
	}
	return nil, fmt.Errorf("no arrow type for %s data", dt)
}

// littleEndian returns the element bytes in little-endian order.
func littleEndian(arr *ndv.Array) []byte {
	size := arr.DType.Size
	if arr.DType.Order != '>' || size == 1 {
		return arr.Data
	}
	out := make([]byte, len(arr.Data))
	for off := 0; off < len(out); off += size {
		switch size {
		case 2:
			binary.LittleEndian.PutUint16(out[off:], binary.BigEndian.Uint16(arr.Data[off:]))
		case 4:
			binary.LittleEndian.PutUint32(out[off:], binary.BigEndian.Uint32(arr.Data[off:]))
		case 8:
			binary.LittleEndian.PutUint64(out[off:], binary.BigEndian.Uint64(arr.Data[off:]))
		}
	}
	return out
}

// EncodeArrow writes an Arrow IPC stream with one record batch holding the
// flattened array in a column named "data".  The schema metadata gives the
// array's "shape" as a JSON list and its numpy "dtype".
func EncodeArrow(w io.Writer, arr *ndv.Array) error {
	atype, err := arrowType(arr.DType)
	if err != nil {
		return err
	}
	shape, err := json.Marshal(arr.Shape)
	if err != nil {
		return err
	}
	if len(arr.Shape) == 0 {
		shape = []byte("[]")
	}
	md := arrow.NewMetadata([]string{"shape", "dtype"}, []string{string(shape), arr.DType.String()})
	schema := arrow.NewSchema([]arrow.Field{{Name: "data", Type: atype}}, &md)

	pool := memory.NewGoAllocator()
	n := arr.NumElements()
	var col arrow.Array
	if arr.DType.Kind == 'b' {
		builder := array.NewBooleanBuilder(pool)
		defer builder.Release()
		builder.Reserve(n)
		for i := 0; i < n; i++ {
			builder.Append(arr.Data[i] != 0)
		}
		col = builder.NewArray()
	} else {
		buffers := []*memory.Buffer{nil, memory.NewBufferBytes(littleEndian(arr))}
		data := array.NewData(atype, n, buffers, nil, 0, 0)
		defer data.Release()
		col = array.MakeFromData(data)
	}
	defer col.Release()

	record := array.NewRecord(schema, []arrow.Array{col}, int64(n))
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("unable to write arrow record: %v", err)
	}
	return writer.Close()
}

// MarshalArrayMsg appends a MessagePack map with the array's "dtype", "shape",
// and raw C-ordered "data" bytes.
func MarshalArrayMsg(b []byte, arr *ndv.Array) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 3)
	b = msgp.AppendString(b, "dtype")
	b = msgp.AppendString(b, arr.DType.String())
	b = msgp.AppendString(b, "shape")
	b = msgp.AppendArrayHeader(b, uint32(len(arr.Shape)))
	for _, d := range arr.Shape {
		b = msgp.AppendInt(b, d)
	}
	b = msgp.AppendString(b, "data")
	b = msgp.AppendBytes(b, arr.Data)
	return b, nil
}

// MarshalMsg appends the MessagePack encoding of the stats.  NaN is written as
// nil, matching the JSON encoding, while infinities stay floats.
func (s Stats) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 4)
	for _, kv := range []struct {
		key string
		val float64
	}{{"nanmin", s.Min}, {"nanmax", s.Max}, {"nanmean", s.Mean}, {"nanstd", s.Std}} {
		b = msgp.AppendString(b, kv.key)
		if math.IsNaN(kv.val) {
			b = msgp.AppendNil(b)
		} else {
			b = msgp.AppendFloat64(b, kv.val)
		}
	}
	return b, nil
}

func (a AttrMeta) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 4)
	b = msgp.AppendString(b, "name")
	b = msgp.AppendString(b, a.Name)
	b = msgp.AppendString(b, "dtype")
	b = msgp.AppendString(b, a.DType)
	b = msgp.AppendString(b, "shape")
	b = msgp.AppendArrayHeader(b, uint32(len(a.Shape)))
	for _, d := range a.Shape {
		b = msgp.AppendInt(b, d)
	}
	b = msgp.AppendString(b, "value")
	return msgp.AppendIntf(b, a.Value)
}

// MarshalMsg appends the MessagePack encoding of the metadata, with the same
// keys as its JSON encoding.
func (m Meta) MarshalMsg(b []byte) ([]byte, error) {
	group := m.Type == storage.KindGroup
	if group {
		b = msgp.AppendMapHeader(b, 5)
	} else {
		b = msgp.AppendMapHeader(b, 9)
	}
	b = msgp.AppendString(b, "name")
	b = msgp.AppendString(b, m.Name)
	b = msgp.AppendString(b, "uri")
	b = msgp.AppendString(b, m.URI)
	b = msgp.AppendString(b, "type")
	b = msgp.AppendString(b, m.Type)
	b = msgp.AppendString(b, "attributes")
	b = msgp.AppendArrayHeader(b, uint32(len(m.Attributes)))
	var err error
	for _, a := range m.Attributes {
		if b, err = a.MarshalMsg(b); err != nil {
			return b, err
		}
	}
	if group {
		b = msgp.AppendString(b, "childCount")
		return msgp.AppendInt(b, m.ChildCount), nil
	}
	b = msgp.AppendString(b, "dtype")
	b = msgp.AppendString(b, m.DType.String())
	b = msgp.AppendString(b, "ndim")
	b = msgp.AppendInt(b, m.NDim)
	b = msgp.AppendString(b, "shape")
	b = msgp.AppendArrayHeader(b, uint32(len(m.Shape)))
	for _, d := range m.Shape {
		b = msgp.AppendInt(b, d)
	}
	b = msgp.AppendString(b, "size")
	b = msgp.AppendInt(b, m.Size)
	b = msgp.AppendString(b, "labels")
	b = msgp.AppendArrayHeader(b, uint32(len(m.Labels)))
	for _, l := range m.Labels {
		b = msgp.AppendMapHeader(b, 3)
		b = msgp.AppendString(b, "start")
		b = msgp.AppendInt(b, l.Start)
		b = msgp.AppendString(b, "stop")
		b = msgp.AppendInt(b, l.Stop)
		b = msgp.AppendString(b, "step")
		b = msgp.AppendInt(b, l.Step)
	}
	return b, nil
}
