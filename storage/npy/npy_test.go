package npy

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"

	"gocloud.dev/blob/memblob"
)

func rangeArray(t *testing.T, dtype string, shape []int) *ndv.Array {
	dt := ndv.MustParseDataType(dtype)
	vals := make([]float64, ndv.NumElements(shape))
	for i := range vals {
		vals[i] = float64(i)
	}
	arr, err := ndv.ArrayFromFloat64s(dt, shape, vals)
	if err != nil {
		t.Fatalf("couldn't make %s array of shape %v: %v\n", dtype, shape, err)
	}
	return arr
}

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		dtype string
		shape []int
	}{
		{"<f8", []int{}},
		{"<i4", []int{7}},
		{"|u1", []int{3, 4}},
		{">f4", []int{2, 3, 4}},
		{"<u2", []int{0, 5}},
	}
	for _, tc := range tests {
		head := EncodeHeader(ndv.MustParseDataType(tc.dtype), tc.shape)
		if len(head)%64 != 0 {
			t.Errorf("header for %s %v has length %d, not a multiple of 64\n", tc.dtype, tc.shape, len(head))
		}
		if head[len(head)-1] != '\n' {
			t.Errorf("header for %s %v doesn't end in newline\n", tc.dtype, tc.shape)
		}
		h, err := ReadHeader(bytes.NewReader(head))
		if err != nil {
			t.Fatalf("can't read back header for %s %v: %v\n", tc.dtype, tc.shape, err)
		}
		if h.DType.String() != tc.dtype {
			t.Errorf("expected dtype %s, got %s\n", tc.dtype, h.DType)
		}
		if len(h.Shape) != len(tc.shape) || (len(tc.shape) > 0 && !reflect.DeepEqual(h.Shape, tc.shape)) {
			t.Errorf("expected shape %v, got %v\n", tc.shape, h.Shape)
		}
		if h.FortranOrder {
			t.Errorf("encoded header for %s %v is fortran ordered\n", tc.dtype, tc.shape)
		}
		if h.DataOffset != int64(len(head)) {
			t.Errorf("expected data offset %d, got %d\n", len(head), h.DataOffset)
		}
	}
}

func TestHeaderDictFormat(t *testing.T) {
	head := EncodeHeader(ndv.Int16, []int{5})
	if !strings.Contains(string(head), "'shape': (5,)") {
		t.Errorf("1-d shape not written as python tuple: %q\n", head)
	}
	head = EncodeHeader(ndv.Float32, []int{2, 3})
	if !strings.Contains(string(head), "{'descr': '<f4', 'fortran_order': False, 'shape': (2, 3), }") {
		t.Errorf("unexpected header dict: %q\n", head)
	}
}

func TestParseHeaderNeed(t *testing.T) {
	head := EncodeHeader(ndv.Float64, []int{10, 10})
	_, need, err := ParseHeader(head[:12])
	if err != nil {
		t.Fatalf("unexpected error on partial header: %v\n", err)
	}
	if need != int64(len(head)) {
		t.Errorf("expected to need %d bytes, got %d\n", len(head), need)
	}
	h, need, err := ParseHeader(head)
	if err != nil || need != 0 {
		t.Fatalf("full header gave need %d, err %v\n", need, err)
	}
	if !reflect.DeepEqual(h.Shape, []int{10, 10}) {
		t.Errorf("bad shape %v\n", h.Shape)
	}
	if _, _, err := ParseHeader([]byte("PK\x03\x04 not an npy file")); err == nil {
		t.Errorf("expected error on bad magic\n")
	}
}

func TestVersion2Header(t *testing.T) {
	dict := "{'descr': '<i2', 'fortran_order': False, 'shape': (3,), }"
	dict += strings.Repeat(" ", 64-(12+len(dict)+1)%64) + "\n"
	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write([]byte{2, 0, byte(len(dict)), 0, 0, 0})
	buf.WriteString(dict)
	buf.Write([]byte{1, 0, 2, 0, 3, 0})

	arr, err := Decode(&buf)
	if err != nil {
		t.Fatalf("couldn't decode version 2 npy: %v\n", err)
	}
	vals, _ := arr.Float64s()
	if !reflect.DeepEqual(vals, []float64{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v\n", vals)
	}
}

func TestHeaderParseErrors(t *testing.T) {
	bad := []string{
		"{'descr': [('a', '<i4')], 'fortran_order': False, 'shape': (3,), }",
		"{'descr': '<i4', 'fortran_order': False}",
		"{'descr': '<i4', 'fortran_order': Maybe, 'shape': (3,), }",
		"{'descr': '<q9', 'fortran_order': False, 'shape': (3,), }",
		"'descr': '<i4'",
	}
	for _, dict := range bad {
		if _, err := parseHeaderDict(dict); err == nil {
			t.Errorf("expected error parsing header dict %q\n", dict)
		}
	}
	h, err := parseHeaderDict("{'descr':'<i8','fortran_order':True,'shape':(2L, 3L)}")
	if err != nil {
		t.Fatalf("couldn't parse compact python 2 header: %v\n", err)
	}
	if !h.FortranOrder || !reflect.DeepEqual(h.Shape, []int{2, 3}) {
		t.Errorf("bad parse of compact header: %+v\n", h)
	}
}

func TestEncodeDecode(t *testing.T) {
	arr := rangeArray(t, "<i4", []int{3, 4, 5})
	data, err := Marshal(arr)
	if err != nil {
		t.Fatalf("couldn't marshal: %v\n", err)
	}
	got, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("couldn't decode: %v\n", err)
	}
	if !reflect.DeepEqual(got.Shape, arr.Shape) || !bytes.Equal(got.Data, arr.Data) {
		t.Errorf("round trip changed array: shape %v -> %v\n", arr.Shape, got.Shape)
	}
	if _, err := Decode(bytes.NewReader(data[:len(data)-3])); err == nil {
		t.Errorf("expected error decoding truncated npy\n")
	}
}

func TestFortranOrder(t *testing.T) {
	// 2x3 array [[0 1 2] [3 4 5]] stored column major
	dict := "{'descr': '<f8', 'fortran_order': True, 'shape': (2, 3), }"
	dict += strings.Repeat(" ", 64-(10+len(dict)+1)%64) + "\n"
	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write([]byte{1, 0, byte(len(dict)), 0})
	buf.WriteString(dict)
	col, err := ndv.ArrayFromFloat64s(ndv.Float64, []int{6}, []float64{0, 3, 1, 4, 2, 5})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	buf.Write(col.Data)

	arr, err := Decode(&buf)
	if err != nil {
		t.Fatalf("couldn't decode fortran ordered npy: %v\n", err)
	}
	if !reflect.DeepEqual(arr.Shape, []int{2, 3}) {
		t.Fatalf("expected shape [2 3], got %v\n", arr.Shape)
	}
	vals, _ := arr.Float64s()
	if !reflect.DeepEqual(vals, []float64{0, 1, 2, 3, 4, 5}) {
		t.Errorf("expected C-ordered values 0-5, got %v\n", vals)
	}
}

func TestEngineRegistered(t *testing.T) {
	e, err := storage.GetEngine("npy")
	if err != nil {
		t.Fatalf("npy engine not registered: %v\n", err)
	}
	if e.GetName() != "npy" {
		t.Errorf("bad engine name %q\n", e.GetName())
	}
}

func checkSlice(t *testing.T, store *storage.Store, key string, full *ndv.Array, ixstr string) {
	ctx := context.Background()
	f, err := store.OpenFile(ctx, "npy", key)
	if err != nil {
		t.Fatalf("couldn't open %q: %v\n", key, err)
	}
	defer f.Close()
	node, err := f.Get(ctx, "/")
	if err != nil {
		t.Fatalf("couldn't get root dataset: %v\n", err)
	}
	ds, ok := node.(storage.Dataset)
	if !ok {
		t.Fatalf("npy root is not a dataset: %T\n", node)
	}
	if !reflect.DeepEqual(ds.Shape(), full.Shape) || ds.DataType() != full.DType {
		t.Fatalf("expected %s %v, got %s %v\n", full.DType, full.Shape, ds.DataType(), ds.Shape())
	}
	sel, err := ndv.ResolveIndex(ixstr, ds.Shape())
	if err != nil {
		t.Fatalf("bad index %q: %v\n", ixstr, err)
	}
	region, local := sel.Region()
	block, err := ds.ReadRegion(ctx, region)
	if err != nil {
		t.Fatalf("couldn't read region for %q: %v\n", ixstr, err)
	}
	got, err := local.Apply(block)
	if err != nil {
		t.Fatalf("couldn't apply local selection for %q: %v\n", ixstr, err)
	}
	expected, err := sel.Apply(full)
	if err != nil {
		t.Fatalf("couldn't extract %q from memory: %v\n", ixstr, err)
	}
	if !reflect.DeepEqual(got.Shape, expected.Shape) || !bytes.Equal(got.Data, expected.Data) {
		t.Errorf("slice %q: expected shape %v data %v, got shape %v data %v\n",
			ixstr, expected.Shape, expected.Data, got.Shape, got.Data)
	}
}

var engineSlices = []string{
	"",
	"...",
	"1",
	"-1, :, 2",
	"1:3, ::2",
	"::-1",
	"2:0:-1, 1, ::-2",
	"5:9",
}

func TestEngineMemBucket(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	store := storage.NewStore(bucket, "")
	defer store.Close()

	full := rangeArray(t, "<u2", []int{4, 5, 6})
	data, err := Marshal(full)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if err := bucket.WriteAll(ctx, "vol/range.npy", data, nil); err != nil {
		t.Fatalf("couldn't write to mem bucket: %v\n", err)
	}
	for _, ixstr := range engineSlices {
		checkSlice(t, store, "vol/range.npy", full, ixstr)
	}

	f, err := store.OpenFile(ctx, "npy", "/vol/range.npy")
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if _, err := f.Get(ctx, "/data"); err == nil {
		t.Errorf("expected error getting sub-object of npy file\n")
	}
	if _, err := store.OpenFile(ctx, "npy", "vol/missing.npy"); err == nil {
		t.Errorf("expected error opening missing file\n")
	}
}

func TestEngineLocalDir(t *testing.T) {
	dir := t.TempDir()
	full := rangeArray(t, "<f4", []int{9, 2})
	data, err := Marshal(full)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.npy"), data, 0644); err != nil {
		t.Fatalf("%v\n", err)
	}
	store, err := storage.OpenStore(context.Background(), dir)
	if err != nil {
		t.Fatalf("couldn't open local store %s: %v\n", dir, err)
	}
	defer store.Close()
	if !store.Local() {
		t.Errorf("store for %s should be local\n", dir)
	}
	for _, ixstr := range []string{"", "3", "1:8:3, -1", "::-2, ::-1"} {
		checkSlice(t, store, "a.npy", full, ixstr)
	}
}

func TestUnicodeItemSize(t *testing.T) {
	ctx := context.Background()
	text := []byte{}
	for _, r := range "abcdef" {
		text = append(text, byte(r), 0, 0, 0)
	}
	arr := &ndv.Array{DType: ndv.MustParseDataType("<U3"), Shape: []int{2}, Data: text}
	if arr.DType.Size != 12 || arr.DType.String() != "<U3" {
		t.Fatalf("expected 12 byte <U3 items, got %d byte %s\n", arr.DType.Size, arr.DType)
	}
	data, err := Marshal(arr)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if !bytes.Contains(data, []byte("'<U3'")) {
		t.Errorf("expected <U3 descr in header: %q\n", data[:64])
	}

	bucket := memblob.OpenBucket(nil)
	store := storage.NewStore(bucket, "")
	defer store.Close()
	if err := bucket.WriteAll(ctx, "names.npy", data, nil); err != nil {
		t.Fatalf("%v\n", err)
	}
	f, err := store.OpenFile(ctx, "npy", "names.npy")
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	defer f.Close()
	node, err := f.Get(ctx, "/")
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	ds := node.(storage.Dataset)
	got, err := ds.ReadRegion(ctx, ndv.Region{Start: []int{1}, Count: []int{1}, Stride: []int{1}})
	if err != nil {
		t.Fatalf("couldn't read second string: %v\n", err)
	}
	if !bytes.Equal(got.Data, text[12:]) {
		t.Errorf("expected %q, got %q\n", text[12:], got.Data)
	}
}
