package npy

import (
	"bytes"
	"context"
	"fmt"

	"github.com/blang/semver"
	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		ndv.Errorf("Unable to make semver in npy: %v\n", err)
	}
	e := Engine{"npy", "numpy .npy flat array files", ver}
	storage.RegisterEngine(e)
}

// initial read size, enough for nearly all headers
const headProbe = 256

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

// Open reads the npy header of the file stored under key.  Element data is only
// read by ReadRegion.
func (e Engine) Open(ctx context.Context, store *storage.Store, key string) (storage.File, error) {
	head, err := store.ReadRange(ctx, key, 0, headProbe)
	if err != nil {
		return nil, err
	}
	h, need, err := ParseHeader(head)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", key, err)
	}
	if need > 0 {
		if head, err = store.ReadRange(ctx, key, 0, need); err != nil {
			return nil, err
		}
		if h, need, err = ParseHeader(head); err != nil {
			return nil, fmt.Errorf("%s: %v", key, err)
		}
		if need > 0 {
			return nil, fmt.Errorf("%s: npy file truncated in header", key)
		}
	}
	return &File{store: store, key: key, header: h}, nil
}

// File is an npy file holding a single dataset.
type File struct {
	store  *storage.Store
	key    string
	header Header
}

// Header returns the parsed npy header.
func (f *File) Header() Header {
	return f.header
}

// Get returns the file's dataset.  Flat files have no hierarchy so any uri
// other than the root is not found.
func (f *File) Get(ctx context.Context, uri string) (storage.Node, error) {
	if storage.CleanURI(uri) != "/" {
		return nil, storage.NotFoundf("object %q in flat file %q", uri, f.key)
	}
	return &Dataset{f}, nil
}

func (f *File) Close() error {
	return nil
}

// Dataset is the array stored in an npy file.
type Dataset struct {
	f *File
}

func (d *Dataset) Name() string {
	return "/"
}

func (d *Dataset) Kind() string {
	return storage.KindDataset
}

func (d *Dataset) Attributes() ([]storage.Attribute, error) {
	return nil, nil
}

func (d *Dataset) DataType() ndv.DataType {
	return d.f.header.DType
}

func (d *Dataset) Shape() []int {
	return append([]int{}, d.f.header.Shape...)
}

// ReadRegion reads the region with a single ranged read.  For C-ordered files
// only the span of the outermost axis covered by the region is read.
func (d *Dataset) ReadRegion(ctx context.Context, region ndv.Region) (*ndv.Array, error) {
	h := d.f.header
	if err := storage.CheckRegion(region, h.Shape); err != nil {
		return nil, err
	}
	if region.NumElements() == 0 {
		return ndv.NewArray(h.DType, region.Count), nil
	}

	var block *ndv.Array
	local := make(ndv.Selection, len(h.Shape))
	if h.FortranOrder || len(h.Shape) == 0 {
		data, err := d.f.store.ReadRange(ctx, d.f.key, h.DataOffset, h.DataSize())
		if err != nil {
			return nil, err
		}
		if block, err = decodeData(h, bytes.NewReader(data)); err != nil {
			return nil, err
		}
		for i := range local {
			local[i] = regionAxis(region, i, 0)
		}
	} else {
		lo := region.Start[0]
		hi := region.Extent()[0]
		rowShape := append([]int{hi - lo}, h.Shape[1:]...)
		rowBytes := int64(ndv.NumElements(h.Shape[1:]) * h.DType.Size)
		data, err := d.f.store.ReadRange(ctx, d.f.key, h.DataOffset+int64(lo)*rowBytes, int64(hi-lo)*rowBytes)
		if err != nil {
			return nil, err
		}
		if len(data) != ndv.NumElements(rowShape)*h.DType.Size {
			return nil, fmt.Errorf("npy file %q truncated: read %d bytes of rows %d-%d", d.f.key, len(data), lo, hi)
		}
		block = &ndv.Array{DType: h.DType, Shape: rowShape, Data: data}
		for i := range local {
			local[i] = regionAxis(region, i, 0)
		}
		local[0] = regionAxis(region, 0, lo)
	}
	ndv.Debugf("npy %q: read block %v for region %v\n", d.f.key, block.Shape, region.Count)
	return local.Apply(block)
}

// regionAxis returns the selection of a region's axis i within a block whose
// axis starts at offset.
func regionAxis(region ndv.Region, i, offset int) ndv.AxisSelection {
	start := region.Start[i] - offset
	return ndv.AxisSelection{
		Start: start,
		Stop:  start + (region.Count[i]-1)*region.Stride[i] + 1,
		Step:  region.Stride[i],
		Count: region.Count[i],
	}
}
