package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
	"github.com/ndvserve/ndv/storage/npy"
	_ "github.com/ndvserve/ndv/storage/zarr"

	"gocloud.dev/blob/memblob"
)

func rangeArray(t *testing.T, dtype string, shape []int) *ndv.Array {
	vals := make([]float64, ndv.NumElements(shape))
	for i := range vals {
		vals[i] = float64(i)
	}
	arr, err := ndv.ArrayFromFloat64s(ndv.MustParseDataType(dtype), shape, vals)
	if err != nil {
		t.Fatalf("couldn't make %s array: %v\n", dtype, err)
	}
	return arr
}

// testStore holds a 4x6 npy file at "range.npy" and a zarr group at "vol.zarr"
// with a 3x4 float64 array "img" and an empty subgroup "sub".
func testStore(t *testing.T) *storage.Store {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	store := storage.NewStore(bucket, "")
	t.Cleanup(func() { store.Close() })

	write := func(key string, data []byte) {
		if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
			t.Fatalf("couldn't write %s: %v\n", key, err)
		}
	}
	data, err := npy.Marshal(rangeArray(t, "<i4", []int{4, 6}))
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	write("range.npy", data)

	write("vol.zarr/.zgroup", []byte(`{"zarr_format": 2}`))
	write("vol.zarr/.zattrs", []byte(`{"title": "test volume", "scale": [4, 4, 40]}`))
	write("vol.zarr/img/.zarray", []byte(`{
		"zarr_format": 2, "shape": [3, 4], "chunks": [3, 4], "dtype": "<f8",
		"compressor": null, "fill_value": "NaN", "order": "C", "filters": null}`))
	write("vol.zarr/img/.zattrs", []byte(`{"units": "nm"}`))
	img := rangeArray(t, "<f8", []int{3, 4})
	img.DType.PutFloat64(img.Data[8*5:], math.NaN())
	write("vol.zarr/img/0.0", img.Data)
	write("vol.zarr/sub/.zgroup", []byte(`{"zarr_format": 2}`))
	return store
}

func getNode(t *testing.T, store *storage.Store, format, key, uri string) storage.Node {
	ctx := context.Background()
	f, err := store.OpenFile(ctx, format, key)
	if err != nil {
		t.Fatalf("couldn't open %s file %s: %v\n", format, key, err)
	}
	t.Cleanup(func() { f.Close() })
	node, err := f.Get(ctx, uri)
	if err != nil {
		t.Fatalf("couldn't get %q in %s: %v\n", uri, key, err)
	}
	return node
}

func TestExtract(t *testing.T) {
	store := testStore(t)
	ds, err := AsDataset(getNode(t, store, "npy", "range.npy", "/"))
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	tests := []struct {
		ixstr string
		shape []int
		vals  []float64
	}{
		{"1", []int{6}, []float64{6, 7, 8, 9, 10, 11}},
		{"-1, ::-2", []int{3}, []float64{23, 21, 19}},
		{"1:3, 4:", []int{2, 2}, []float64{10, 11, 16, 17}},
		{"..., 0", []int{4}, []float64{0, 6, 12, 18}},
		{"2, 3", []int{}, []float64{15}},
		{"5:, :", []int{0, 6}, []float64{}},
	}
	for _, tc := range tests {
		arr, sel, err := Extract(context.Background(), ds, tc.ixstr)
		if err != nil {
			t.Errorf("error extracting %q: %v\n", tc.ixstr, err)
			continue
		}
		if !reflect.DeepEqual(arr.Shape, tc.shape) && !(len(arr.Shape) == 0 && len(tc.shape) == 0) {
			t.Errorf("extract %q: expected shape %v, got %v\n", tc.ixstr, tc.shape, arr.Shape)
		}
		if !reflect.DeepEqual(sel.Shape(), arr.Shape) && len(arr.Shape) > 0 {
			t.Errorf("extract %q: selection shape %v doesn't match array %v\n", tc.ixstr, sel.Shape(), arr.Shape)
		}
		vals, err := arr.Float64s()
		if err != nil {
			t.Fatalf("%v\n", err)
		}
		if len(vals) != len(tc.vals) || (len(vals) > 0 && !reflect.DeepEqual(vals, tc.vals)) {
			t.Errorf("extract %q: expected %v, got %v\n", tc.ixstr, tc.vals, vals)
		}
	}

	if _, _, err := Extract(context.Background(), ds, "4"); !errors.Is(err, ndv.ErrBadIndex) {
		t.Errorf("expected bad index error for out of bounds index, got %v\n", err)
	}
	if _, _, err := ExtractLimited(context.Background(), ds, ":2", 40); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected too large error for 48 byte selection, got %v\n", err)
	}
	if _, _, err := ExtractLimited(context.Background(), ds, ":2", 48); err != nil {
		t.Errorf("unexpected error for selection at limit: %v\n", err)
	}
}

func TestAsDatasetGroup(t *testing.T) {
	store := testStore(t)
	node := getNode(t, store, "zarr", "vol.zarr", "/")
	if _, err := AsDataset(node); !errors.Is(err, ErrNotDataset) {
		t.Errorf("expected ErrNotDataset for group, got %v\n", err)
	}
	if _, err := Describe(node, "0", Options{}); !errors.Is(err, ErrNotDataset) {
		t.Errorf("expected ErrNotDataset describing group with index, got %v\n", err)
	}
}

func TestDescribeDataset(t *testing.T) {
	store := testStore(t)
	node := getNode(t, store, "zarr", "vol.zarr", "/img")
	meta, err := Describe(node, "", Options{})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if meta.Name != "img" || meta.URI != "/img" || meta.Type != storage.KindDataset {
		t.Errorf("bad identity in meta: %+v\n", meta)
	}
	if meta.DType.String() != "<f8" || meta.NDim != 2 || meta.Size != 12 {
		t.Errorf("bad dtype or size in meta: %+v\n", meta)
	}
	if len(meta.Attributes) != 1 || meta.Attributes[0].Name != "units" || meta.Attributes[0].Value != "nm" {
		t.Errorf("bad attributes: %v\n", meta.Attributes)
	}

	meta, err = Describe(node, "1, ::2", Options{MinNDim: 3})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if !reflect.DeepEqual(meta.Shape, []int{1, 1, 2}) {
		t.Errorf("expected padded shape [1 1 2], got %v\n", meta.Shape)
	}
	expected := []ndv.SliceLabel{{0, 1, 1}, {0, 1, 1}, {0, 4, 2}}
	if !reflect.DeepEqual(meta.Labels, expected) {
		t.Errorf("expected labels %v, got %v\n", expected, meta.Labels)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad meta json %s: %v\n", data, err)
	}
	for _, key := range []string{"name", "uri", "type", "dtype", "ndim", "shape", "size", "labels", "attributes"} {
		if _, found := m[key]; !found {
			t.Errorf("key %q missing from meta json %s\n", key, data)
		}
	}
	if _, found := m["childCount"]; found {
		t.Errorf("dataset meta json shouldn't have childCount: %s\n", data)
	}
}

func TestContents(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	f, err := store.OpenFile(ctx, "zarr", "vol.zarr")
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	defer f.Close()

	root, err := f.Get(ctx, "/")
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	meta, err := Describe(root, "", Options{})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	if meta.Type != storage.KindGroup || meta.ChildCount != 2 || meta.Name != "/" {
		t.Errorf("bad root group meta: %+v\n", meta)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("%v\n", err)
	}
	if m["childCount"] != 2.0 {
		t.Errorf("expected childCount 2 in %s\n", data)
	}
	if _, found := m["shape"]; found {
		t.Errorf("group meta json shouldn't have shape: %s\n", data)
	}

	metas, err := Contents(ctx, f, "/", Options{})
	if err != nil {
		t.Fatalf("%v\n", err)
	}
	var names []string
	for _, m := range metas {
		names = append(names, m.Name+":"+m.Type)
	}
	expected := []string{"img:" + storage.KindDataset, "sub:" + storage.KindGroup}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("expected contents %v, got %v\n", expected, names)
	}
	if _, err := Contents(ctx, f, "/img", Options{}); err == nil {
		t.Errorf("expected error listing contents of a dataset\n")
	}
}

func TestDescribeAttribute(t *testing.T) {
	a := storage.Attribute{
		Name:  "grid",
		DType: ndv.Float64,
		Shape: []int{2, 2},
		Value: []float64{1, math.NaN(), math.Inf(1), 4},
	}
	am := DescribeAttribute(a)
	expected := []interface{}{
		[]interface{}{1.0, JSONNaN},
		[]interface{}{JSONInf, 4.0},
	}
	if !reflect.DeepEqual(am.Value, expected) {
		t.Errorf("expected nested value %v, got %v\n", expected, am.Value)
	}
	if _, err := json.Marshal(am); err != nil {
		t.Errorf("attribute should marshal to JSON: %v\n", err)
	}

	am = DescribeAttribute(storage.Attribute{Name: "label", DType: ndv.MustParseDataType("|S5"), Value: []byte("hello")})
	if am.Value != "hello" || len(am.Shape) != 0 || am.Shape == nil {
		t.Errorf("bad byte string attribute: %+v\n", am)
	}
}

func TestJsonize(t *testing.T) {
	tests := []struct {
		in  interface{}
		out interface{}
	}{
		{nil, nil},
		{3, 3},
		{float32(1.5), 1.5},
		{math.Inf(-1), JSONNegInf},
		{[]int32{1, 2}, []interface{}{int32(1), int32(2)}},
		{map[string]interface{}{"a": math.NaN()}, map[string]interface{}{"a": JSONNaN}},
	}
	for _, tc := range tests {
		if got := Jsonize(tc.in); !reflect.DeepEqual(got, tc.out) {
			t.Errorf("Jsonize(%v): expected %v, got %v\n", tc.in, tc.out, got)
		}
	}
}
