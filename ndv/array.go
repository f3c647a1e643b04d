package ndv

import "fmt"

// Array is an n-dimensional buffer of elements stored in C (row-major) order.
// A zero-length Shape is a scalar holding a single element.
type Array struct {
	DType DataType
	Shape []int
	Data  []byte
}

// NumElements returns the product of a shape's dimensions.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// NewArray allocates a zeroed array of the given type and shape.
func NewArray(dtype DataType, shape []int) *Array {
	return &Array{
		DType: dtype,
		Shape: append([]int{}, shape...),
		Data:  make([]byte, NumElements(shape)*dtype.Size),
	}
}

// ArrayFromFloat64s encodes values into a new array of the given type and shape.
func ArrayFromFloat64s(dtype DataType, shape []int, vals []float64) (*Array, error) {
	if !dtype.Numeric() {
		return nil, fmt.Errorf("cannot encode values into non-numeric data type %s", dtype)
	}
	if n := NumElements(shape); n != len(vals) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(vals))
	}
	arr := NewArray(dtype, shape)
	for i, v := range vals {
		dtype.PutFloat64(arr.Data[i*dtype.Size:], v)
	}
	return arr, nil
}

func (a *Array) NumElements() int {
	return NumElements(a.Shape)
}

// NumBytes is the size of the element buffer.
func (a *Array) NumBytes() int {
	return len(a.Data)
}

// Strides returns the byte strides of each axis.
func (a *Array) Strides() []int {
	return byteStrides(a.Shape, a.DType.Size)
}

func byteStrides(shape []int, itemSize int) []int {
	strides := make([]int, len(shape))
	stride := itemSize
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// Float64At returns the i-th element in C order.
func (a *Array) Float64At(i int) float64 {
	return a.DType.Float64At(a.Data[i*a.DType.Size:])
}

// Float64s converts all elements to float64.
func (a *Array) Float64s() ([]float64, error) {
	if !a.DType.Numeric() {
		return nil, fmt.Errorf("data type %s is not numeric", a.DType)
	}
	n := a.NumElements()
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = a.Float64At(i)
	}
	return vals, nil
}

// Reshape returns an array sharing the same buffer but with a new shape.
func (a *Array) Reshape(shape []int) (*Array, error) {
	if NumElements(shape) != a.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v into %v", a.Shape, shape)
	}
	return &Array{DType: a.DType, Shape: append([]int{}, shape...), Data: a.Data}, nil
}

// Transpose reverses the axes, converting between C and Fortran order.
func (a *Array) Transpose() *Array {
	ndim := len(a.Shape)
	if ndim < 2 {
		return a
	}
	shape := make([]int, ndim)
	for i, d := range a.Shape {
		shape[ndim-1-i] = d
	}
	out := NewArray(a.DType, shape)
	srcStrides := a.Strides()
	size := a.DType.Size
	idx := make([]int, ndim)
	n := out.NumElements()
	for i := 0; i < n; i++ {
		// idx walks the output in C order; the source index is idx reversed.
		var off int
		for k := 0; k < ndim; k++ {
			off += idx[k] * srcStrides[ndim-1-k]
		}
		copy(out.Data[i*size:(i+1)*size], a.Data[off:off+size])
		for k := ndim - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < shape[k] {
				break
			}
			idx[k] = 0
		}
	}
	return out
}

// Fill sets every element to v.
func (a *Array) Fill(v float64) {
	size := a.DType.Size
	if !a.DType.Numeric() || len(a.Data) < size {
		return
	}
	a.DType.PutFloat64(a.Data[:size], v)
	for off := size; off < len(a.Data); off *= 2 {
		copy(a.Data[off:], a.Data[:off])
	}
}

// Paste copies src into the block of a starting at offset.  Both arrays must
// have the same rank and data type.
func (a *Array) Paste(src *Array, offset []int) error {
	if len(src.Shape) != len(a.Shape) || len(offset) != len(a.Shape) {
		return fmt.Errorf("cannot paste %v array into %v array at %v", src.Shape, a.Shape, offset)
	}
	if src.DType.Size != a.DType.Size {
		return fmt.Errorf("cannot paste %s data into %s array", src.DType, a.DType)
	}
	for i, d := range src.Shape {
		if offset[i] < 0 || offset[i]+d > a.Shape[i] {
			return fmt.Errorf("paste of %v at %v exceeds array shape %v", src.Shape, offset, a.Shape)
		}
	}
	if src.NumElements() == 0 {
		return nil
	}
	if len(a.Shape) == 0 {
		copy(a.Data, src.Data)
		return nil
	}
	dstStrides := a.Strides()
	srcStrides := src.Strides()
	var paste func(axis, dst, s int)
	paste = func(axis, dst, s int) {
		dst += offset[axis] * dstStrides[axis]
		if axis == len(a.Shape)-1 {
			n := src.Shape[axis] * a.DType.Size
			copy(a.Data[dst:dst+n], src.Data[s:s+n])
			return
		}
		for k := 0; k < src.Shape[axis]; k++ {
			paste(axis+1, dst+k*dstStrides[axis], s+k*srcStrides[axis])
		}
	}
	paste(0, 0, 0)
	return nil
}
