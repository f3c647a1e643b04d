package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
)

// Options modify the description of a node.
type Options struct {
	// MinNDim left-pads dataset shapes with 1s up to this rank.
	MinNDim int
}

// AttrMeta is the JSON-safe description of an attribute.
type AttrMeta struct {
	Name  string      `json:"name"`
	DType string      `json:"dtype"`
	Shape []int       `json:"shape"`
	Value interface{} `json:"value"`
}

// Meta describes a dataset or group.  For datasets sliced by an index
// expression, NDim, Shape, Size and Labels describe the sliced result.
type Meta struct {
	Name       string
	URI        string
	Type       string
	DType      ndv.DataType
	NDim       int
	Shape      []int
	Size       int
	Labels     []ndv.SliceLabel
	Attributes []AttrMeta
	ChildCount int
}

type datasetJSON struct {
	Name       string           `json:"name"`
	URI        string           `json:"uri"`
	Type       string           `json:"type"`
	DType      string           `json:"dtype"`
	NDim       int              `json:"ndim"`
	Shape      []int            `json:"shape"`
	Size       int              `json:"size"`
	Labels     []ndv.SliceLabel `json:"labels"`
	Attributes []AttrMeta       `json:"attributes"`
}

type groupJSON struct {
	Name       string     `json:"name"`
	URI        string     `json:"uri"`
	Type       string     `json:"type"`
	Attributes []AttrMeta `json:"attributes"`
	ChildCount int        `json:"childCount"`
}

func (m Meta) MarshalJSON() ([]byte, error) {
	attrs := m.Attributes
	if attrs == nil {
		attrs = []AttrMeta{}
	}
	if m.Type == storage.KindGroup {
		return json.Marshal(groupJSON{m.Name, m.URI, m.Type, attrs, m.ChildCount})
	}
	shape, labels := m.Shape, m.Labels
	if shape == nil {
		shape = []int{}
	}
	if labels == nil {
		labels = []ndv.SliceLabel{}
	}
	return json.Marshal(datasetJSON{m.Name, m.URI, m.Type, m.DType.String(), m.NDim, shape, m.Size, labels, attrs})
}

// baseName returns the last component of an object path, or "/" for the root.
func baseName(uri string) string {
	if uri == "/" || uri == "" {
		return "/"
	}
	return path.Base(uri)
}

// Describe returns the metadata of a node.  An index expression may only be
// given for datasets.
func Describe(node storage.Node, ixstr string, opts Options) (Meta, error) {
	meta := Meta{
		Name: baseName(node.Name()),
		URI:  node.Name(),
		Type: node.Kind(),
	}
	attrs, err := node.Attributes()
	if err != nil {
		return meta, err
	}
	for _, a := range attrs {
		meta.Attributes = append(meta.Attributes, DescribeAttribute(a))
	}

	switch n := node.(type) {
	case storage.Dataset:
		sel := ndv.FullSelection(n.Shape())
		if ixstr != "" {
			if sel, err = Resolve(n, ixstr); err != nil {
				return meta, err
			}
		}
		meta.DType = n.DataType()
		meta.Shape = sel.Shape()
		meta.Labels = sel.Labels()
		for len(meta.Shape) < opts.MinNDim {
			meta.Shape = append([]int{1}, meta.Shape...)
			meta.Labels = append([]ndv.SliceLabel{{Start: 0, Stop: 1, Step: 1}}, meta.Labels...)
		}
		meta.NDim = len(meta.Shape)
		meta.Size = ndv.NumElements(meta.Shape)
	case storage.Group:
		if ixstr != "" {
			return meta, fmt.Errorf("%w: index expression %q given for group %q", ErrNotDataset, ixstr, node.Name())
		}
		children, err := n.Children()
		if err != nil {
			return meta, err
		}
		meta.ChildCount = len(children)
	default:
		return meta, fmt.Errorf("object %q has unknown kind %q", node.Name(), node.Kind())
	}
	return meta, nil
}

// Contents describes the children of the group at uri.
func Contents(ctx context.Context, f storage.File, uri string, opts Options) ([]Meta, error) {
	node, err := f.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	g, ok := node.(storage.Group)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s", ErrNotGroup, node.Name(), node.Kind())
	}
	names, err := g.Children()
	if err != nil {
		return nil, err
	}
	metas := make([]Meta, 0, len(names))
	for _, name := range names {
		child, err := f.Get(ctx, storage.ChildURI(node.Name(), name))
		if err != nil {
			return nil, err
		}
		meta, err := Describe(child, "", opts)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// DescribeAttribute converts an attribute into its JSON-safe form.  Flat values
// of multi-dimensional attributes are nested to match the attribute's shape.
func DescribeAttribute(a storage.Attribute) AttrMeta {
	shape := a.Shape
	if shape == nil {
		shape = []int{}
	}
	value := Jsonize(a.Value)
	if len(shape) > 1 {
		if flat, ok := value.([]interface{}); ok && len(flat) == ndv.NumElements(shape) {
			value = nest(flat, shape)
		}
	}
	return AttrMeta{Name: a.Name, DType: a.DType.String(), Shape: shape, Value: value}
}

func nest(flat []interface{}, shape []int) interface{} {
	if len(shape) <= 1 {
		return flat
	}
	n := len(flat) / shape[0]
	out := make([]interface{}, shape[0])
	for i := range out {
		out[i] = nest(flat[i*n:(i+1)*n], shape[1:])
	}
	return out
}
