package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
)

var (
	// ErrNotDataset is returned when data is requested from a group.
	ErrNotDataset = errors.New("object is not a dataset")

	// ErrNotGroup is returned when the children of a dataset are requested.
	ErrNotGroup = errors.New("object is not a group")

	// ErrNotNumeric is returned for operations that require numeric elements.
	ErrNotNumeric = errors.New("data type is not numeric")

	// ErrTooLarge is returned when a selection exceeds the extraction limit.
	ErrTooLarge = errors.New("selection too large")
)

// AsDataset returns the node as a dataset or an error wrapping ErrNotDataset.
func AsDataset(node storage.Node) (storage.Dataset, error) {
	ds, ok := node.(storage.Dataset)
	if !ok {
		return nil, fmt.Errorf("%w: %q is a %s", ErrNotDataset, node.Name(), node.Kind())
	}
	return ds, nil
}

// Resolve parses ixstr and resolves it against the dataset's shape.  An empty
// ixstr selects the whole dataset.
func Resolve(ds storage.Dataset, ixstr string) (ndv.Selection, error) {
	return ndv.ResolveIndex(ixstr, ds.Shape())
}

// SelectionBytes is the size of the array a selection would extract.
func SelectionBytes(ds storage.Dataset, sel ndv.Selection) int64 {
	return int64(ndv.NumElements(sel.Counts())) * int64(ds.DataType().Size)
}

// ExtractSelection reads the selected elements of a dataset.
func ExtractSelection(ctx context.Context, ds storage.Dataset, sel ndv.Selection) (*ndv.Array, error) {
	region, local := sel.Region()
	block, err := ds.ReadRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	arr, err := local.Apply(block)
	if err != nil {
		return nil, fmt.Errorf("unable to apply selection to %q: %v", ds.Name(), err)
	}
	return arr, nil
}

// Extract returns the portion of a dataset given by a numpy-style index
// expression, along with the resolved selection.
func Extract(ctx context.Context, ds storage.Dataset, ixstr string) (*ndv.Array, ndv.Selection, error) {
	return ExtractLimited(ctx, ds, ixstr, 0)
}

// ExtractLimited is Extract with a limit in bytes on the extracted array.  A
// limit of zero means no limit.
func ExtractLimited(ctx context.Context, ds storage.Dataset, ixstr string, maxBytes int64) (*ndv.Array, ndv.Selection, error) {
	sel, err := Resolve(ds, ixstr)
	if err != nil {
		return nil, nil, err
	}
	if n := SelectionBytes(ds, sel); maxBytes > 0 && n > maxBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes selected from %q exceeds limit of %d bytes",
			ErrTooLarge, n, ds.Name(), maxBytes)
	}
	arr, err := ExtractSelection(ctx, ds, sel)
	if err != nil {
		return nil, nil, err
	}
	return arr, sel, nil
}
