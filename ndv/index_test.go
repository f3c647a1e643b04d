package ndv

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseIndex(t *testing.T) {
	tests := []struct {
		ixstr string
		want  string
	}{
		{"", ""},
		{"   ", ""},
		{"0", "0"},
		{"-1", "-1"},
		{"1:5", "1:5"},
		{"::2", "::2"},
		{"[1:5, 3]", "1:5,3"},
		{"(0,)", "0"},
		{"..., 0", "...,0"},
		{"None:4:None", ":4"},
		{" 2 : -1 : -1 ,", "2:-1:-1"},
	}
	for _, tc := range tests {
		expr, err := ParseIndex(tc.ixstr)
		if err != nil {
			t.Fatalf("ParseIndex(%q) returned error: %v\n", tc.ixstr, err)
		}
		if got := expr.String(); got != tc.want {
			t.Errorf("ParseIndex(%q) = %q, expected %q\n", tc.ixstr, got, tc.want)
		}
	}
}

func TestParseIndexErrors(t *testing.T) {
	bad := []string{"a", "1:2:3:4", "::0", "...,...", "1,,2", "None", "1.5", "x:3"}
	for _, ixstr := range bad {
		if _, err := ParseIndex(ixstr); err == nil {
			t.Errorf("expected error parsing %q\n", ixstr)
		} else if !errors.Is(err, ErrBadIndex) {
			t.Errorf("error for %q does not wrap ErrBadIndex: %v\n", ixstr, err)
		}
	}
}

func TestResolveSlices(t *testing.T) {
	tests := []struct {
		ixstr string
		n     int
		want  AxisSelection
	}{
		{":", 10, AxisSelection{0, 10, 1, 10, false}},
		{"2:5", 10, AxisSelection{2, 5, 1, 3, false}},
		{"-3:", 10, AxisSelection{7, 10, 1, 3, false}},
		{"::3", 10, AxisSelection{0, 10, 3, 4, false}},
		{"::-1", 10, AxisSelection{9, -1, -1, 10, false}},
		{"8:2:-2", 10, AxisSelection{8, 2, -2, 3, false}},
		{"5:2", 10, AxisSelection{5, 2, 1, 0, false}},
		{"-100:100", 10, AxisSelection{0, 10, 1, 10, false}},
		{"100:", 10, AxisSelection{10, 10, 1, 0, false}},
		{"-100::-1", 10, AxisSelection{-1, -1, -1, 0, false}},
		{"3", 10, AxisSelection{3, 4, 1, 1, true}},
		{"-1", 10, AxisSelection{9, 10, 1, 1, true}},
	}
	for _, tc := range tests {
		sel, err := ResolveIndex(tc.ixstr, []int{tc.n})
		if err != nil {
			t.Fatalf("resolve %q: %v\n", tc.ixstr, err)
		}
		if sel[0] != tc.want {
			t.Errorf("resolve %q on %d: got %+v, expected %+v\n", tc.ixstr, tc.n, sel[0], tc.want)
		}
	}
}

func TestResolveShapes(t *testing.T) {
	shape := []int{4, 5, 6}
	tests := []struct {
		ixstr string
		want  []int
	}{
		{"", []int{4, 5, 6}},
		{"0", []int{5, 6}},
		{"...", []int{4, 5, 6}},
		{"..., 0", []int{4, 5}},
		{"1, ..., 2", []int{5}},
		{"::2, 1:3", []int{2, 2, 6}},
		{"0, 0, 0", []int{}},
		{"1:1", []int{0, 5, 6}},
	}
	for _, tc := range tests {
		sel, err := ResolveIndex(tc.ixstr, shape)
		if err != nil {
			t.Fatalf("resolve %q: %v\n", tc.ixstr, err)
		}
		if got := sel.Shape(); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("resolve %q: shape %v, expected %v\n", tc.ixstr, got, tc.want)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	shape := []int{4, 5}
	for _, ixstr := range []string{"4", "-5", "0,0,0", "0, 5", "..., 1, 2, 3"} {
		_, err := ResolveIndex(ixstr, shape)
		if err == nil {
			t.Errorf("expected error resolving %q against %v\n", ixstr, shape)
			continue
		}
		if !errors.Is(err, ErrBadIndex) {
			t.Errorf("error for %q does not wrap ErrBadIndex: %v\n", ixstr, err)
		}
	}
	if _, err := ResolveIndex("0", nil); err == nil {
		t.Errorf("expected error indexing a scalar\n")
	}
	if sel, err := ResolveIndex("...", nil); err != nil || len(sel) != 0 {
		t.Errorf("ellipsis on a scalar should select it, got %v, %v\n", sel, err)
	}
}

func makeRange(t *testing.T, dtype DataType, shape []int) *Array {
	vals := make([]float64, NumElements(shape))
	for i := range vals {
		vals[i] = float64(i)
	}
	arr, err := ArrayFromFloat64s(dtype, shape, vals)
	if err != nil {
		t.Fatalf("unable to make test array: %v\n", err)
	}
	return arr
}

func TestSelectionApply(t *testing.T) {
	arr := makeRange(t, Int32, []int{3, 4})
	tests := []struct {
		ixstr string
		shape []int
		want  []float64
	}{
		{"", []int{3, 4}, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		{"1", []int{4}, []float64{4, 5, 6, 7}},
		{":, 1", []int{3}, []float64{1, 5, 9}},
		{"::-1, ::2", []int{3, 2}, []float64{8, 10, 4, 6, 0, 2}},
		{"-1, -1", []int{}, []float64{11}},
		{"1:, 3:0:-2", []int{2, 2}, []float64{7, 5, 11, 9}},
		{"2:1", []int{0, 4}, []float64{}},
	}
	for _, tc := range tests {
		sel, err := ResolveIndex(tc.ixstr, arr.Shape)
		if err != nil {
			t.Fatalf("resolve %q: %v\n", tc.ixstr, err)
		}
		out, err := sel.Apply(arr)
		if err != nil {
			t.Fatalf("apply %q: %v\n", tc.ixstr, err)
		}
		if !reflect.DeepEqual(out.Shape, tc.shape) {
			t.Errorf("apply %q: shape %v, expected %v\n", tc.ixstr, out.Shape, tc.shape)
		}
		got, _ := out.Float64s()
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("apply %q: got %v, expected %v\n", tc.ixstr, got, tc.want)
		}
	}
}

func TestRegionMatchesApply(t *testing.T) {
	arr := makeRange(t, Float64, []int{5, 6, 7})
	for _, ixstr := range []string{"1:4, ::-2, 3", "::-1", "4, 5, 6", "-2:, 1::3, ::-3", "3:0:-1"} {
		sel, err := ResolveIndex(ixstr, arr.Shape)
		if err != nil {
			t.Fatalf("resolve %q: %v\n", ixstr, err)
		}
		direct, err := sel.Apply(arr)
		if err != nil {
			t.Fatalf("apply %q: %v\n", ixstr, err)
		}

		// Read the positive-stride region then apply the local selection.
		region, local := sel.Region()
		regionSel := make(Selection, len(region.Start))
		for i := range regionSel {
			regionSel[i] = AxisSelection{
				Start: region.Start[i],
				Stop:  region.Extent()[i],
				Step:  region.Stride[i],
				Count: region.Count[i],
			}
		}
		block, err := regionSel.Apply(arr)
		if err != nil {
			t.Fatalf("region read %q: %v\n", ixstr, err)
		}
		viaRegion, err := local.Apply(block)
		if err != nil {
			t.Fatalf("local apply %q: %v\n", ixstr, err)
		}
		if !reflect.DeepEqual(direct.Shape, viaRegion.Shape) {
			t.Fatalf("%q: shapes differ %v vs %v\n", ixstr, direct.Shape, viaRegion.Shape)
		}
		a, _ := direct.Float64s()
		b, _ := viaRegion.Float64s()
		if !reflect.DeepEqual(a, b) {
			t.Errorf("%q: region extraction %v differs from direct %v\n", ixstr, b, a)
		}
	}
}

func TestLabels(t *testing.T) {
	sel, err := ResolveIndex("2, 1:8:3, ::-1", []int{5, 10, 4})
	if err != nil {
		t.Fatalf("resolve: %v\n", err)
	}
	want := []SliceLabel{{1, 8, 3}, {3, -1, -1}}
	if got := sel.Labels(); !reflect.DeepEqual(got, want) {
		t.Errorf("labels %v, expected %v\n", got, want)
	}
}
