package zarr

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"

	"golang.org/x/sync/errgroup"
)

// MaxConcurrentChunks bounds the chunk reads in flight for one region.
var MaxConcurrentChunks = 16

// chunkPart is the portion of a region held by one chunk.
type chunkPart struct {
	coord  []int // chunk grid coordinates
	sel    ndv.Selection
	offset []int // position of the part within the region
}

// ReadRegion reads every chunk overlapping the region concurrently and copies
// the selected elements into the result.  Missing chunks hold the fill value.
func (d *Dataset) ReadRegion(ctx context.Context, region ndv.Region) (*ndv.Array, error) {
	if err := storage.CheckRegion(region, d.meta.Shape); err != nil {
		return nil, err
	}
	out := ndv.NewArray(d.dtype, region.Count)
	if region.NumElements() == 0 {
		return out, nil
	}
	parts := d.chunkParts(region)
	ndv.Debugf("zarr %q: reading %d chunks for region %v\n", d.name, len(parts), region.Count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentChunks)
	for _, part := range parts {
		g.Go(func() error {
			chunk, err := d.readChunk(gctx, part.coord)
			if err != nil {
				return err
			}
			block, err := part.sel.Apply(chunk)
			if err != nil {
				return err
			}
			// parts cover disjoint blocks of out
			return out.Paste(block, part.offset)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunkParts returns the chunks holding at least one element of the region.
func (d *Dataset) chunkParts(region ndv.Region) []chunkPart {
	ndim := len(d.meta.Shape)
	if ndim == 0 {
		return []chunkPart{{coord: []int{}, sel: ndv.Selection{}, offset: []int{}}}
	}
	// per axis, the chunks hit and the selection within each
	type axisPart struct {
		chunk  int
		sel    ndv.AxisSelection
		offset int
	}
	axes := make([][]axisPart, ndim)
	for i := 0; i < ndim; i++ {
		size := d.meta.Chunks[i]
		start, stride, count := region.Start[i], region.Stride[i], region.Count[i]
		last := start + (count-1)*stride
		for c := start / size; c <= last/size; c++ {
			lo, hi := c*size, (c+1)*size-1
			kLo := 0
			if lo > start {
				kLo = (lo - start + stride - 1) / stride
			}
			kHi := (hi - start) / stride
			if kHi > count-1 {
				kHi = count - 1
			}
			if kLo > kHi {
				continue
			}
			first := start + kLo*stride - lo
			n := kHi - kLo + 1
			axes[i] = append(axes[i], axisPart{
				chunk:  c,
				sel:    ndv.AxisSelection{Start: first, Stop: first + (n-1)*stride + 1, Step: stride, Count: n},
				offset: kLo,
			})
		}
	}

	var parts []chunkPart
	idx := make([]int, ndim)
	for {
		part := chunkPart{
			coord:  make([]int, ndim),
			sel:    make(ndv.Selection, ndim),
			offset: make([]int, ndim),
		}
		for i, k := range idx {
			ap := axes[i][k]
			part.coord[i], part.sel[i], part.offset[i] = ap.chunk, ap.sel, ap.offset
		}
		parts = append(parts, part)

		i := ndim - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return parts
		}
	}
}

// readChunk returns a full, C-ordered chunk.
func (d *Dataset) readChunk(ctx context.Context, coord []int) (*ndv.Array, error) {
	key := path.Join(d.key, ChunkKey(coord, d.meta.DimensionSeparator))
	chunkShape := d.meta.Chunks
	data, err := d.f.store.ReadAll(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		chunk := ndv.NewArray(d.dtype, chunkShape)
		fill, err := d.meta.Fill()
		if err != nil {
			return nil, err
		}
		if fill != 0 {
			chunk.Fill(fill)
		}
		return chunk, nil
	}
	if err != nil {
		return nil, err
	}
	if data, err = d.decode(data); err != nil {
		return nil, fmt.Errorf("unable to decode chunk %q: %v", key, err)
	}
	if expected := ndv.NumElements(chunkShape) * d.dtype.Size; len(data) != expected {
		return nil, fmt.Errorf("chunk %q has %d bytes, expected %d", key, len(data), expected)
	}
	if d.meta.Order == "F" {
		shape := make([]int, len(chunkShape))
		for i, n := range chunkShape {
			shape[len(shape)-1-i] = n
		}
		fortran := &ndv.Array{DType: d.dtype, Shape: shape, Data: data}
		return fortran.Transpose(), nil
	}
	return &ndv.Array{DType: d.dtype, Shape: append([]int{}, chunkShape...), Data: data}, nil
}
