/*
	Package zarr is a storage engine for zarr v2 stores held under a key prefix of
	an ndv Store, e.g., a directory of a local root or a prefix within a bucket.
*/
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/blang/semver"
	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		ndv.Errorf("Unable to make semver in zarr: %v\n", err)
	}
	e := Engine{"zarr", "zarr v2 chunked array stores", ver}
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

// Open checks that key is the root of a zarr hierarchy, either a group or a
// single array.
func (e Engine) Open(ctx context.Context, store *storage.Store, key string) (storage.File, error) {
	key = strings.TrimSuffix(key, "/")
	f := &File{store: store, root: key}
	for _, meta := range []string{KeyGroup, KeyArray} {
		found, err := store.Exists(ctx, path.Join(key, meta))
		if err != nil {
			return nil, err
		}
		if found {
			return f, nil
		}
	}
	return nil, storage.NotFoundf("zarr store %q", key)
}

// File is an opened zarr store.
type File struct {
	store *storage.Store
	root  string
}

func (f *File) objectKey(uri string) string {
	return path.Join(f.root, strings.TrimPrefix(uri, "/"))
}

func (f *File) Get(ctx context.Context, uri string) (storage.Node, error) {
	uri, err := storage.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	key := f.objectKey(uri)
	data, err := f.store.ReadAll(ctx, path.Join(key, KeyArray))
	if err == nil {
		meta, err := ParseArrayMeta(data)
		if err != nil {
			return nil, fmt.Errorf("zarr array %q: %v", uri, err)
		}
		dtype, _ := meta.DataType()
		decode, _ := meta.codec()
		node := node{ctx: ctx, f: f, name: uri, key: key}
		return &Dataset{node: node, meta: meta, dtype: dtype, decode: decode}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	found, err := f.store.Exists(ctx, path.Join(key, KeyGroup))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.NotFoundf("object %q in zarr store %q", uri, f.root)
	}
	return &Group{node{ctx: ctx, f: f, name: uri, key: key}}, nil
}

func (f *File) Close() error {
	return nil
}

type node struct {
	ctx  context.Context
	f    *File
	name string
	key  string
}

func (n node) Name() string {
	return n.name
}

// Attributes returns the contents of the .zattrs key sorted by name.
func (n node) Attributes() ([]storage.Attribute, error) {
	data, err := n.f.store.ReadAll(n.ctx, path.Join(n.key, KeyAttributes))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("bad .zattrs for %q: %v", n.name, err)
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]storage.Attribute, len(names))
	for i, name := range names {
		v := attrs[name]
		out[i] = storage.Attribute{Name: name, DType: jsonType(v), Shape: jsonShape(v), Value: v}
	}
	return out, nil
}

// jsonType returns the numpy type a JSON value would have as an array.
func jsonType(v interface{}) ndv.DataType {
	switch x := v.(type) {
	case bool:
		return ndv.Bool
	case float64:
		if x == float64(int64(x)) {
			return ndv.Int64
		}
		return ndv.Float64
	case string:
		return ndv.DataType{Order: '<', Kind: 'U', Size: 4 * len([]rune(x))}
	case []interface{}:
		if len(x) > 0 {
			return jsonType(x[0])
		}
		return ndv.Float64
	default:
		return ndv.DataType{Order: '|', Kind: 'O', Size: 8}
	}
}

// jsonShape returns the shape of nested JSON lists.
func jsonShape(v interface{}) []int {
	shape := []int{}
	for {
		list, ok := v.([]interface{})
		if !ok {
			return shape
		}
		shape = append(shape, len(list))
		if len(list) == 0 {
			return shape
		}
		v = list[0]
	}
}

// Group is a zarr group.
type Group struct {
	node
}

func (g *Group) Kind() string {
	return storage.KindGroup
}

// Children returns the sub-prefixes that hold a zarr array or group.
func (g *Group) Children() ([]string, error) {
	infos, err := g.f.store.List(g.ctx, g.key)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir {
			continue
		}
		for _, meta := range []string{KeyArray, KeyGroup} {
			found, err := g.f.store.Exists(g.ctx, path.Join(info.Key, meta))
			if err != nil {
				return nil, err
			}
			if found {
				names = append(names, path.Base(info.Key))
				break
			}
		}
	}
	return names, nil
}

// Dataset is a zarr array.
type Dataset struct {
	node
	meta   *ArrayMeta
	dtype  ndv.DataType
	decode codec
}

func (d *Dataset) Kind() string {
	return storage.KindDataset
}

func (d *Dataset) DataType() ndv.DataType {
	return d.dtype
}

func (d *Dataset) Shape() []int {
	return append([]int{}, d.meta.Shape...)
}

// Meta returns the parsed .zarray metadata.
func (d *Dataset) Meta() *ArrayMeta {
	return d.meta
}
