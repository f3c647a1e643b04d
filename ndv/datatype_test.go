package ndv

import (
	"math"
	"testing"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		s    string
		want DataType
		str  string
	}{
		{"<f8", Float64, "<f8"},
		{"|u1", Uint8, "|u1"},
		{"<u1", Uint8, "|u1"},
		{"i4", Int32, "<i4"},
		{"=i2", Int16, "<i2"},
		{">f4", DataType{'>', 'f', 4, ""}, ">f4"},
		{"|b1", Bool, "|b1"},
		{"<M8[ns]", DataType{'<', 'M', 8, "[ns]"}, "<M8[ns]"},
		{"&lt;f2", Float16, "<f2"},
		{"<U3", DataType{'<', 'U', 12, ""}, "<U3"},
		{"|S4", DataType{'|', 'S', 4, ""}, "|S4"},
	}
	for _, tc := range tests {
		dt, err := ParseDataType(tc.s)
		if err != nil {
			t.Fatalf("ParseDataType(%q): %v\n", tc.s, err)
		}
		if dt != tc.want {
			t.Errorf("ParseDataType(%q) = %+v, expected %+v\n", tc.s, dt, tc.want)
		}
		if dt.String() != tc.str {
			t.Errorf("ParseDataType(%q).String() = %q, expected %q\n", tc.s, dt.String(), tc.str)
		}
	}
	for _, bad := range []string{"", "<", "<x4", "<fz"} {
		if _, err := ParseDataType(bad); err == nil {
			t.Errorf("expected error parsing %q\n", bad)
		}
	}
}

func TestFloat64Conversion(t *testing.T) {
	types := []DataType{Uint8, Int8, Uint16, Int16, Uint32, Int32, Uint64, Int64, Float16, Float32, Float64,
		MustParseDataType(">i4"), MustParseDataType(">f8")}
	for _, dt := range types {
		if !dt.Numeric() {
			t.Fatalf("%s should be numeric\n", dt)
		}
		vals := []float64{0, 1, 2, 100, 127}
		if dt.Kind != 'u' {
			vals = append(vals, -1, -128)
		}
		buf := make([]byte, dt.Size)
		for _, v := range vals {
			dt.PutFloat64(buf, v)
			if got := dt.Float64At(buf); got != v {
				t.Errorf("%s round trip of %g gave %g\n", dt, v, got)
			}
		}
	}
	if MustParseDataType("|S8").Numeric() {
		t.Errorf("byte strings should not be numeric\n")
	}
}

func TestHalfFloat(t *testing.T) {
	buf := make([]byte, 2)
	for _, v := range []float64{0.5, -2.25, 65504, 6.103515625e-05, 5.960464477539063e-08} {
		Float16.PutFloat64(buf, v)
		if got := Float16.Float64At(buf); got != v {
			t.Errorf("half float round trip of %g gave %g\n", v, got)
		}
	}
	Float16.PutFloat64(buf, math.NaN())
	if got := Float16.Float64At(buf); !math.IsNaN(got) {
		t.Errorf("expected NaN, got %g\n", got)
	}
	Float16.PutFloat64(buf, math.Inf(-1))
	if got := Float16.Float64At(buf); !math.IsInf(got, -1) {
		t.Errorf("expected -Inf, got %g\n", got)
	}
}

func TestTranspose(t *testing.T) {
	arr := makeRange(t, Uint16, []int{2, 3})
	tr := arr.Transpose()
	if tr.Shape[0] != 3 || tr.Shape[1] != 2 {
		t.Fatalf("bad transposed shape %v\n", tr.Shape)
	}
	got, _ := tr.Float64s()
	want := []float64{0, 3, 1, 4, 2, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transpose gave %v, expected %v\n", got, want)
		}
	}
}

func TestFill(t *testing.T) {
	arr := NewArray(Float32, []int{3, 3})
	arr.Fill(math.NaN())
	vals, _ := arr.Float64s()
	for i, v := range vals {
		if !math.IsNaN(v) {
			t.Fatalf("element %d not filled: %g\n", i, v)
		}
	}
}

func TestPaste(t *testing.T) {
	dst := NewArray(Int16, []int{3, 4})
	src := makeRange(t, Int16, []int{2, 2})
	if err := dst.Paste(src, []int{1, 2}); err != nil {
		t.Fatalf("paste failed: %v\n", err)
	}
	got, _ := dst.Float64s()
	want := []float64{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paste gave %v, expected %v\n", got, want)
		}
	}
	if err := dst.Paste(src, []int{2, 2}); err == nil {
		t.Errorf("expected error pasting beyond array bounds\n")
	}
	if err := dst.Paste(makeRange(t, Int16, []int{2}), []int{0}); err == nil {
		t.Errorf("expected error pasting array of different rank\n")
	}
}
