/*
	This file handles numpy-style index expressions, e.g., "0, 10:20, ::-2", and their
	resolution against the shape of a concrete array.
*/

package ndv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadIndex is wrapped by all errors due to a malformed or out-of-bounds index
// expression so callers can distinguish client errors from read failures.
var ErrBadIndex = errors.New("bad index expression")

func badIndexf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBadIndex, fmt.Sprintf(format, args...))
}

type IndexKind uint8

const (
	IndexInteger IndexKind = iota
	IndexSlice
	IndexEllipsis
)

// IndexItem is one comma-separated component of an index expression.  Nil
// slice bounds are omitted parts, e.g., the start and stop of "::2".
type IndexItem struct {
	Kind  IndexKind
	Index int
	Start *int
	Stop  *int
	Step  *int
}

func (item IndexItem) String() string {
	switch item.Kind {
	case IndexInteger:
		return strconv.Itoa(item.Index)
	case IndexEllipsis:
		return "..."
	}
	part := func(p *int) string {
		if p == nil {
			return ""
		}
		return strconv.Itoa(*p)
	}
	s := part(item.Start) + ":" + part(item.Stop)
	if item.Step != nil {
		s += ":" + part(item.Step)
	}
	return s
}

// IndexExpr is a parsed index expression.  An empty IndexExpr selects everything.
type IndexExpr []IndexItem

func (e IndexExpr) String() string {
	parts := make([]string, len(e))
	for i, item := range e {
		parts[i] = item.String()
	}
	return strings.Join(parts, ",")
}

// ParseIndex parses an index expression using numpy basic indexing syntax.  Items are
// separated by commas and are either integers, slices "start:stop:step" with any part
// optional, or a single ellipsis "...".  Enclosing brackets or parentheses are ignored.
func ParseIndex(ixstr string) (IndexExpr, error) {
	s := strings.TrimSpace(ixstr)
	if len(s) >= 2 && ((s[0] == '[' && s[len(s)-1] == ']') || (s[0] == '(' && s[len(s)-1] == ')')) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	expr := make(IndexExpr, 0, len(parts))
	var numEllipsis int
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			return nil, badIndexf("empty item in %q", ixstr)
		case part == "..." || part == "Ellipsis":
			numEllipsis++
			if numEllipsis > 1 {
				return nil, badIndexf("an index can only have a single ellipsis ('...'): %q", ixstr)
			}
			expr = append(expr, IndexItem{Kind: IndexEllipsis})
		case strings.Contains(part, ":"):
			item, err := parseSlice(part)
			if err != nil {
				return nil, err
			}
			expr = append(expr, item)
		default:
			if part == "None" || part == "newaxis" || part == "np.newaxis" {
				return nil, badIndexf("new axes are not supported: %q", ixstr)
			}
			i, err := strconv.Atoi(part)
			if err != nil {
				return nil, badIndexf("item %q is not an integer, slice, or ellipsis", part)
			}
			expr = append(expr, IndexItem{Kind: IndexInteger, Index: i})
		}
	}
	return expr, nil
}

func parseSlice(s string) (IndexItem, error) {
	fields := strings.Split(s, ":")
	if len(fields) > 3 {
		return IndexItem{}, badIndexf("slice %q has too many parts", s)
	}
	item := IndexItem{Kind: IndexSlice}
	ptrs := []**int{&item.Start, &item.Stop, &item.Step}
	for i, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" || field == "None" {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return IndexItem{}, badIndexf("slice %q has non-integer part %q", s, field)
		}
		*ptrs[i] = &v
	}
	if item.Step != nil && *item.Step == 0 {
		return IndexItem{}, badIndexf("slice step cannot be zero")
	}
	return item, nil
}

// AxisSelection is the resolved selection along one axis: Count indices starting at
// Start and separated by Step.  Stop is the normalized exclusive stop as returned by
// Python's slice.indices().  Drop is set for integer indices, which remove the axis.
type AxisSelection struct {
	Start int
	Stop  int
	Step  int
	Count int
	Drop  bool
}

// Selection is an index expression resolved against a shape, one entry per axis.
type Selection []AxisSelection

// SliceLabel describes the range of source indices along a kept axis.
type SliceLabel struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
	Step  int `json:"step"`
}

// FullSelection selects everything in the given shape.
func FullSelection(shape []int) Selection {
	sel := make(Selection, len(shape))
	for i, n := range shape {
		sel[i] = AxisSelection{Start: 0, Stop: n, Step: 1, Count: n}
	}
	return sel
}

// Resolve applies numpy semantics to produce a Selection for an array of the
// given shape.  Integer indices are bounds-checked while slice bounds are clamped.
func (e IndexExpr) Resolve(shape []int) (Selection, error) {
	ndim := len(shape)
	var numIndexed int
	for _, item := range e {
		if item.Kind != IndexEllipsis {
			numIndexed++
		}
	}
	if numIndexed > ndim {
		return nil, badIndexf("too many indices for array: array is %d-dimensional, but %d were indexed", ndim, numIndexed)
	}
	sel := make(Selection, 0, ndim)
	for _, item := range e {
		axis := len(sel)
		switch item.Kind {
		case IndexEllipsis:
			for i := 0; i < ndim-numIndexed; i++ {
				n := shape[len(sel)]
				sel = append(sel, AxisSelection{Start: 0, Stop: n, Step: 1, Count: n})
			}
		case IndexInteger:
			n := shape[axis]
			i := item.Index
			if i < 0 {
				i += n
			}
			if i < 0 || i >= n {
				return nil, badIndexf("index %d is out of bounds for axis %d with size %d", item.Index, axis, n)
			}
			sel = append(sel, AxisSelection{Start: i, Stop: i + 1, Step: 1, Count: 1, Drop: true})
		case IndexSlice:
			sel = append(sel, sliceIndices(item, shape[axis]))
		}
	}
	for len(sel) < ndim {
		n := shape[len(sel)]
		sel = append(sel, AxisSelection{Start: 0, Stop: n, Step: 1, Count: n})
	}
	return sel, nil
}

// sliceIndices mirrors slice.indices(n) followed by len(range(...)).
func sliceIndices(item IndexItem, n int) AxisSelection {
	step := 1
	if item.Step != nil {
		step = *item.Step
	}
	lower, upper := 0, n
	if step < 0 {
		lower, upper = -1, n-1
	}
	clamp := func(p *int, dflt int) int {
		if p == nil {
			return dflt
		}
		v := *p
		if v < 0 {
			v += n
			if v < lower {
				v = lower
			}
		} else if v > upper {
			v = upper
		}
		return v
	}
	var start, stop int
	if step > 0 {
		start, stop = clamp(item.Start, lower), clamp(item.Stop, upper)
	} else {
		start, stop = clamp(item.Start, upper), clamp(item.Stop, lower)
	}
	var count int
	if step > 0 && start < stop {
		count = (stop-start-1)/step + 1
	} else if step < 0 && stop < start {
		count = (start-stop-1)/(-step) + 1
	}
	return AxisSelection{Start: start, Stop: stop, Step: step, Count: count}
}

// ResolveIndex parses and resolves an index expression in one step.
func ResolveIndex(ixstr string, shape []int) (Selection, error) {
	expr, err := ParseIndex(ixstr)
	if err != nil {
		return nil, err
	}
	return expr.Resolve(shape)
}

// Shape returns the shape of the selected data after integer-indexed axes are dropped.
func (sel Selection) Shape() []int {
	shape := make([]int, 0, len(sel))
	for _, ax := range sel {
		if !ax.Drop {
			shape = append(shape, ax.Count)
		}
	}
	return shape
}

// Counts returns the number of selected indices along every axis, including dropped ones.
func (sel Selection) Counts() []int {
	counts := make([]int, len(sel))
	for i, ax := range sel {
		counts[i] = ax.Count
	}
	return counts
}

// Empty returns true if the selection contains no elements.
func (sel Selection) Empty() bool {
	for _, ax := range sel {
		if ax.Count == 0 {
			return true
		}
	}
	return false
}

// Labels returns the source ranges for each kept axis.
func (sel Selection) Labels() []SliceLabel {
	labels := make([]SliceLabel, 0, len(sel))
	for _, ax := range sel {
		if !ax.Drop {
			labels = append(labels, SliceLabel{ax.Start, ax.Stop, ax.Step})
		}
	}
	return labels
}

// Region is a positive-stride block of an array: Count elements along each axis
// starting at Start and separated by Stride.
type Region struct {
	Start  []int
	Count  []int
	Stride []int
}

// NumElements returns the number of elements covered by the region.
func (r Region) NumElements() int {
	return NumElements(r.Count)
}

// Extent returns the exclusive upper bound along each axis.
func (r Region) Extent() []int {
	ext := make([]int, len(r.Start))
	for i := range ext {
		if r.Count[i] == 0 {
			ext[i] = r.Start[i]
		} else {
			ext[i] = r.Start[i] + (r.Count[i]-1)*r.Stride[i] + 1
		}
	}
	return ext
}

// Region returns the positive-stride region covering the selection, plus the
// Selection that must be applied to the region's data to obtain the final result,
// i.e., flipping negative-step axes and dropping integer-indexed axes.
func (sel Selection) Region() (Region, Selection) {
	ndim := len(sel)
	r := Region{
		Start:  make([]int, ndim),
		Count:  make([]int, ndim),
		Stride: make([]int, ndim),
	}
	local := make(Selection, ndim)
	for i, ax := range sel {
		r.Count[i] = ax.Count
		local[i] = AxisSelection{Start: 0, Stop: ax.Count, Step: 1, Count: ax.Count, Drop: ax.Drop}
		switch {
		case ax.Count == 0:
			r.Stride[i] = 1
		case ax.Step > 0:
			r.Start[i], r.Stride[i] = ax.Start, ax.Step
		default:
			r.Start[i], r.Stride[i] = ax.Start+(ax.Count-1)*ax.Step, -ax.Step
			local[i] = AxisSelection{Start: ax.Count - 1, Stop: -1, Step: -1, Count: ax.Count, Drop: ax.Drop}
		}
	}
	return r, local
}

// Identity returns true if applying the selection to an array of the given shape
// would return the data unchanged apart from dropping axes.
func (sel Selection) Identity(shape []int) bool {
	if len(sel) != len(shape) {
		return false
	}
	for i, ax := range sel {
		if ax.Count != shape[i] {
			return false
		}
		if ax.Count > 0 && ax.Start != 0 {
			return false
		}
		if ax.Count > 1 && ax.Step != 1 {
			return false
		}
	}
	return true
}

// Apply extracts the selection from an in-memory array whose shape matches the
// selection's rank.
func (sel Selection) Apply(arr *Array) (*Array, error) {
	if len(sel) != len(arr.Shape) {
		return nil, fmt.Errorf("selection of rank %d cannot be applied to array of shape %v", len(sel), arr.Shape)
	}
	for i, ax := range sel {
		if ax.Count == 0 {
			continue
		}
		last := ax.Start + (ax.Count-1)*ax.Step
		if ax.Start < 0 || ax.Start >= arr.Shape[i] || last < 0 || last >= arr.Shape[i] {
			return nil, fmt.Errorf("selection exceeds axis %d of size %d", i, arr.Shape[i])
		}
	}
	if sel.Identity(arr.Shape) {
		return arr.Reshape(sel.Shape())
	}
	out := NewArray(arr.DType, sel.Counts())
	if len(out.Data) > 0 {
		g := gatherer{
			sel:     sel,
			src:     arr.Data,
			dst:     out.Data,
			strides: arr.Strides(),
			size:    arr.DType.Size,
		}
		g.gather(0, 0)
	}
	out.Shape = sel.Shape()
	return out, nil
}

// Extract is shorthand for sel.Apply(arr).
func Extract(arr *Array, sel Selection) (*Array, error) {
	return sel.Apply(arr)
}

type gatherer struct {
	sel     Selection
	src     []byte
	dst     []byte
	strides []int
	size    int
	pos     int
}

func (g *gatherer) gather(axis, offset int) {
	ax := g.sel[axis]
	stride := g.strides[axis]
	if axis == len(g.sel)-1 {
		if ax.Step == 1 {
			n := ax.Count * g.size
			start := offset + ax.Start*stride
			copy(g.dst[g.pos:g.pos+n], g.src[start:start+n])
			g.pos += n
			return
		}
		for k := 0; k < ax.Count; k++ {
			start := offset + (ax.Start+k*ax.Step)*stride
			copy(g.dst[g.pos:g.pos+g.size], g.src[start:start+g.size])
			g.pos += g.size
		}
		return
	}
	for k := 0; k < ax.Count; k++ {
		g.gather(axis+1, offset+(ax.Start+k*ax.Step)*stride)
	}
}
