/*
	Package hdf5 is a storage engine for HDF5 files, read through the pure Go
	scigolib/hdf5 library.

	The library requires random access to a local file, so files held in cloud buckets
	are first copied to a temporary file.  Element reads support 32 and 64 bit integer
	and floating point datasets.  Integer signedness comes from the datatype message
	of the dataset's object header.
*/
package hdf5

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"

	h5 "github.com/scigolib/hdf5"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		ndv.Errorf("Unable to make semver in hdf5: %v\n", err)
	}
	e := Engine{"hdf", "HDF5 files via pure Go reader", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// Open opens the HDF5 file and indexes its objects by path.
func (e Engine) Open(ctx context.Context, store *storage.Store, key string) (storage.File, error) {
	localPath, cleanup, err := store.LocalPath(ctx, key)
	if err != nil {
		return nil, err
	}
	hf, err := h5.Open(localPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("unable to open HDF5 file %q: %v", key, err)
	}
	f := &File{
		key:     key,
		hf:      hf,
		cleanup: cleanup,
		objects: make(map[string]h5.Object),
	}
	hf.Walk(func(p string, obj h5.Object) {
		f.objects[storage.CleanURI(p)] = obj
	})
	ndv.Debugf("Opened HDF5 file %q with %d objects\n", key, len(f.objects))
	return f, nil
}

// File is an opened HDF5 file.
type File struct {
	key     string
	hf      *h5.File
	cleanup func()
	objects map[string]h5.Object

	// guards reads through the shared file handle
	mu sync.Mutex
}

func (f *File) Get(ctx context.Context, uri string) (storage.Node, error) {
	uri = storage.CleanURI(uri)
	obj, found := f.objects[uri]
	if !found {
		return nil, storage.NotFoundf("object %q in HDF5 file %q", uri, f.key)
	}
	switch o := obj.(type) {
	case *h5.Group:
		return &Group{f: f, name: uri, g: o}, nil
	case *h5.Dataset:
		return newDataset(f, uri, o)
	default:
		return nil, fmt.Errorf("object %q in %q has unsupported type %T", uri, f.key, obj)
	}
}

func (f *File) Close() error {
	err := f.hf.Close()
	f.cleanup()
	return err
}

// Group is an HDF5 group.
type Group struct {
	f    *File
	name string
	g    *h5.Group
}

func (g *Group) Name() string {
	return g.name
}

func (g *Group) Kind() string {
	return storage.KindGroup
}

func (g *Group) Children() ([]string, error) {
	children := g.g.Children()
	names := make([]string, len(children))
	for i, child := range children {
		names[i] = child.Name()
	}
	return names, nil
}

func (g *Group) Attributes() ([]storage.Attribute, error) {
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	attrs, err := g.g.Attributes()
	if err != nil {
		return nil, fmt.Errorf("unable to read attributes of %q: %v", g.name, err)
	}
	var out []storage.Attribute
	for _, a := range attrs {
		if a.Datatype == nil || a.Dataspace == nil {
			continue
		}
		out = append(out, convertAttribute(a.Name, uint8(a.Datatype.Class), a.Datatype.Size,
			a.Datatype.ClassBitField, a.Dataspace.Dimensions, a.ReadValue))
	}
	return out, nil
}

// Dataset is an HDF5 dataset.
type Dataset struct {
	f     *File
	name  string
	ds    *h5.Dataset
	dtype ndv.DataType
	shape []int

	// false if the integer sign could not be determined
	signKnown bool
}

func newDataset(f *File, name string, ds *h5.Dataset) (*Dataset, error) {
	f.mu.Lock()
	info, err := ds.Info()
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("unable to read dataset %q info: %v", name, err)
	}
	dtype, shape, err := parseInfo(info)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %v", name, err)
	}
	d := &Dataset{f: f, name: name, ds: ds, dtype: dtype, shape: shape, signKnown: true}
	if dtype.Kind == 'i' {
		d.signKnown = false
		msg, err := f.datatypeMessage(ds)
		switch {
		case err != nil:
			ndv.Debugf("unable to read datatype of HDF5 dataset %q: %v\n", name, err)
		case msg.class != 0:
			ndv.Debugf("HDF5 dataset %q summarized as integer has datatype class %d\n", name, msg.class)
		default:
			d.signKnown = true
			if !msg.signed() {
				d.dtype.Kind = 'u'
			}
		}
	}
	return d, nil
}

func (f *File) datatypeMessage(ds *h5.Dataset) (datatypeMessage, error) {
	sb := f.hf.Superblock()
	if sb == nil {
		return datatypeMessage{}, fmt.Errorf("no superblock")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return readDatatypeMessage(f.hf.Reader(), ds.Address(), int(sb.OffsetSize), int(sb.LengthSize))
}

func (d *Dataset) Name() string {
	return d.name
}

func (d *Dataset) Kind() string {
	return storage.KindDataset
}

func (d *Dataset) DataType() ndv.DataType {
	return d.dtype
}

func (d *Dataset) Shape() []int {
	return append([]int{}, d.shape...)
}

func (d *Dataset) Attributes() ([]storage.Attribute, error) {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	attrs, err := d.ds.Attributes()
	if err != nil {
		return nil, fmt.Errorf("unable to read attributes of %q: %v", d.name, err)
	}
	var out []storage.Attribute
	for _, a := range attrs {
		if a.Datatype == nil || a.Dataspace == nil {
			continue
		}
		out = append(out, convertAttribute(a.Name, uint8(a.Datatype.Class), a.Datatype.Size,
			a.Datatype.ClassBitField, a.Dataspace.Dimensions, a.ReadValue))
	}
	return out, nil
}

// ReadRegion reads a strided hyperslab.  Values are decoded by the library as
// float64 and re-encoded in the dataset's data type.  The library decodes all
// fixed-point values as signed, so integers are re-encoded from their two's
// complement bits.
func (d *Dataset) ReadRegion(ctx context.Context, region ndv.Region) (*ndv.Array, error) {
	if err := storage.CheckRegion(region, d.shape); err != nil {
		return nil, err
	}
	if !d.signKnown || !supported(d.dtype) {
		return nil, fmt.Errorf("%w: reading %s data from HDF5 dataset %q", storage.ErrUnsupported, d.dtype, d.name)
	}
	if region.NumElements() == 0 {
		return ndv.NewArray(d.dtype, region.Count), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	var vals []float64
	var err error
	if len(d.shape) == 0 {
		vals, err = d.ds.Read()
	} else {
		sel := &h5.HyperslabSelection{
			Start:  make([]uint64, len(d.shape)),
			Count:  make([]uint64, len(d.shape)),
			Stride: make([]uint64, len(d.shape)),
		}
		for i := range d.shape {
			sel.Start[i] = uint64(region.Start[i])
			sel.Count[i] = uint64(region.Count[i])
			sel.Stride[i] = uint64(region.Stride[i])
		}
		var data interface{}
		if data, err = d.ds.ReadHyperslab(sel); err == nil {
			vals, err = toFloat64s(data)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("error reading region %v of HDF5 dataset %q: %v", region.Count, d.name, err)
	}
	if d.dtype.Kind == 'f' {
		return ndv.ArrayFromFloat64s(d.dtype, region.Count, vals)
	}
	return integerArray(d.dtype, region.Count, vals)
}

func supported(dtype ndv.DataType) bool {
	switch dtype.Kind {
	case 'f', 'i', 'u':
		return dtype.Size == 4 || dtype.Size == 8
	}
	return false
}

// integerArray encodes values the library decoded as signed integers of the
// dataset's size.  The bits are kept so unsigned values above the signed range
// come back intact.
func integerArray(dtype ndv.DataType, shape []int, vals []float64) (*ndv.Array, error) {
	if n := ndv.NumElements(shape); n != len(vals) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(vals))
	}
	arr := ndv.NewArray(dtype, shape)
	bo := dtype.ByteOrder()
	for i, v := range vals {
		switch dtype.Size {
		case 4:
			bo.PutUint32(arr.Data[i*4:], uint32(int32(v)))
		case 8:
			bo.PutUint64(arr.Data[i*8:], uint64(int64(v)))
		}
	}
	return arr, nil
}

func toFloat64s(data interface{}) ([]float64, error) {
	switch v := data.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int64:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected hyperslab data of type %T", data)
	}
}

var (
	infoRE  = regexp.MustCompile(`^Dataset: (\w+) \(size=(\d+) bytes\), ([^,]+)`)
	dimsRE  = regexp.MustCompile(`\[([0-9x ]*)\]`)
	classes = map[string]byte{"integer": 'i', "float": 'f', "string": 'S'}
)

// parseInfo extracts the data type and shape from the library's dataset summary,
// e.g., "Dataset: float (size=8 bytes), 2D array [3 x 4], contiguous (...)".
// Byte order and signedness are not part of the summary.  Integers are reported
// as signed until the datatype message is read, and all types as little-endian,
// which is how values are re-encoded.
func parseInfo(info string) (ndv.DataType, []int, error) {
	var dtype ndv.DataType
	m := infoRE.FindStringSubmatch(info)
	if m == nil {
		return dtype, nil, fmt.Errorf("unable to parse dataset info %q", info)
	}
	kind, found := classes[m[1]]
	if !found {
		return dtype, nil, fmt.Errorf("unsupported HDF5 datatype class %q", m[1])
	}
	size, err := strconv.Atoi(m[2])
	if err != nil {
		return dtype, nil, err
	}
	order := byte('<')
	if size == 1 || kind == 'S' {
		order = '|'
	}
	dtype = ndv.DataType{Order: order, Kind: kind, Size: size}

	space := strings.TrimSpace(m[3])
	switch {
	case space == "scalar":
		return dtype, []int{}, nil
	case space == "null":
		return dtype, []int{0}, nil
	}
	dm := dimsRE.FindStringSubmatch(space)
	if dm == nil {
		return dtype, nil, fmt.Errorf("unable to parse dataspace %q", space)
	}
	fields := strings.FieldsFunc(dm[1], func(r rune) bool { return r == ' ' || r == 'x' })
	shape := make([]int, len(fields))
	for i, s := range fields {
		if shape[i], err = strconv.Atoi(s); err != nil {
			return dtype, nil, fmt.Errorf("bad dimension %q in dataspace %q", s, space)
		}
	}
	return dtype, shape, nil
}

// convertAttribute describes an HDF5 attribute.  Values the library can't decode
// are reported as nil.
func convertAttribute(name string, class uint8, size, bits uint32, dims []uint64,
	read func() (interface{}, error)) storage.Attribute {

	attr := storage.Attribute{Name: name, Shape: make([]int, len(dims))}
	for i, d := range dims {
		attr.Shape[i] = int(d)
	}
	if len(attr.Shape) == 1 && attr.Shape[0] == 1 {
		attr.Shape = []int{}
	}
	order := byte('<')
	if bits&0x01 != 0 {
		order = '>'
	}
	if size == 1 {
		order = '|'
	}
	switch class {
	case 0:
		kind := byte('u')
		if bits&0x08 != 0 {
			kind = 'i'
		}
		attr.DType = ndv.DataType{Order: order, Kind: kind, Size: int(size)}
	case 1:
		attr.DType = ndv.DataType{Order: order, Kind: 'f', Size: int(size)}
	case 3:
		attr.DType = ndv.DataType{Order: '|', Kind: 'S', Size: int(size)}
	default:
		attr.DType = ndv.DataType{Order: '|', Kind: 'V', Size: int(size)}
	}
	v, err := read()
	if err != nil {
		ndv.Debugf("unable to read value of attribute %q: %v\n", name, err)
		return attr
	}
	attr.Value = v
	return attr
}
